package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/amtrelay/internal/advdata"
	"github.com/srg/amtrelay/internal/event"
)

// LE General Discoverable, BR/EDR not supported.
const connectableFlags = 0x06

// advReport converts a go-ble advertisement. go-ble hands out parsed fields
// only, so the AD structures the dispatcher matches on are rebuilt from them.
// LocalName already merges the shortened and complete names, so the report
// only ever carries a complete name field; the shortened name fallback in
// advdata.MatchName applies to backends that pass raw AD data through.
func advReport(adv ble.Advertisement) event.AdvReport {
	var fields []advdata.Field
	if adv.Connectable() {
		fields = append(fields, advdata.Field{Type: advdata.TypeFlags, Value: []byte{connectableFlags}})
	}
	for _, u := range adv.Services() {
		if len(u) == 16 {
			fields = append(fields, advdata.Field{Type: advdata.TypeCompleteUUID128, Value: []byte(u)})
		}
	}
	if name := adv.LocalName(); name != "" {
		fields = append(fields, advdata.Field{Type: advdata.TypeCompleteLocalName, Value: []byte(name)})
	}

	data, err := advdata.Encode(fields...)
	if err != nil {
		data = nil
	}

	addr := ""
	if a := adv.Addr(); a != nil {
		addr = a.String()
	}
	return event.AdvReport{Addr: addr, RSSI: adv.RSSI(), Data: data}
}
