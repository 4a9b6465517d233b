package app

import (
	"encoding/json"

	"github.com/Guilhem-Bonnet/streamrec/internal/ports"
)

// publishJSON est best-effort : un bus absent ou un payload invalide est ignoré.
func publishJSON(bus ports.EventBus, topic string, v any) {
	if bus == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	bus.Publish(topic, b)
}
