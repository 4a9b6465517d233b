package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// MaxDurationMin est la borne exclusive de la durée planifiée (24h).
const MaxDurationMin = 24 * 60

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusAborted:
		return true
	default:
		return false
	}
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Entry est une capture planifiée, telle que persistée par le store.
// Un seul champ Status : active/completed/aborted sont exclusifs par construction.
type Entry struct {
	ID          int64
	StationID   string
	StationName string
	StationURL  string

	StartTime   time.Time
	DurationMin int
	// RepeatRule est opaque pour le scheduler ; seul le RepeatPlanner l'interprète.
	RepeatRule string

	OutputPath   string
	ObservedSize int64
	Status       Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e Entry) Duration() time.Duration {
	return time.Duration(e.DurationMin) * time.Minute
}

// Due indique si l'entrée doit démarrer à l'instant now.
func (e Entry) Due(now time.Time) bool {
	return !e.StartTime.After(now)
}

func ValidDuration(min int) bool {
	return min >= 0 && min < MaxDurationMin
}

func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusAborted
	case StatusActive:
		return to == StatusCompleted || to == StatusAborted
	default:
		return false
	}
}

var forbiddenFileChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeFileName remplace les caractères qui cassent un chemin.
// Un nom fait uniquement de points ("." , "..") devient vide.
func SanitizeFileName(name string) string {
	name = forbiddenFileChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

// ValidFileName indique si name désigne un fichier directement dans le dossier d'enregistrement.
func ValidFileName(name string) bool {
	if name == "" || strings.Trim(name, ".") == "" || strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name
}

// DefaultOutputName dérive le nom de fichier d'une capture : "<station> 2006-01-02 15-04-05.ts".
func DefaultOutputName(stationID string, start time.Time) string {
	return SanitizeFileName(fmt.Sprintf("%s %s.ts", stationID, start.Format("2006-01-02 15-04-05")))
}

// IsDerivedOutputName reconnaît le nom par défaut, y compris avec un suffixe
// d'unicité "_N" ajouté à l'activation.
func IsDerivedOutputName(name, stationID string, start time.Time) bool {
	def := DefaultOutputName(stationID, start)
	if name == def {
		return true
	}
	ext := filepath.Ext(def)
	stem := strings.TrimSuffix(def, ext) + "_"
	if len(name) <= len(stem)+len(ext) || !strings.HasPrefix(name, stem) || !strings.HasSuffix(name, ext) {
		return false
	}
	n, err := strconv.Atoi(name[len(stem) : len(name)-len(ext)])
	return err == nil && n > 0
}
