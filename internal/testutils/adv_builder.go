package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/amtrelay/internal/advdata"
	"github.com/srg/amtrelay/internal/event"
)

// AdvReportBuilder builds advertisement report events with raw AD data.
type AdvReportBuilder struct {
	addr      string
	rssi      int
	name      string
	shortName string
	flags     *byte
}

// NewAdvReportBuilder creates a builder for a general discoverable peer.
func NewAdvReportBuilder() *AdvReportBuilder {
	flags := byte(0x06)
	return &AdvReportBuilder{addr: "00:11:22:33:44:55", rssi: -50, flags: &flags}
}

// WithName sets the complete local name.
func (b *AdvReportBuilder) WithName(name string) *AdvReportBuilder {
	b.name = name
	return b
}

// WithShortName sets the shortened local name.
func (b *AdvReportBuilder) WithShortName(name string) *AdvReportBuilder {
	b.shortName = name
	return b
}

// WithAddress sets the peer address.
func (b *AdvReportBuilder) WithAddress(addr string) *AdvReportBuilder {
	b.addr = addr
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvReportBuilder) WithRSSI(rssi int) *AdvReportBuilder {
	b.rssi = rssi
	return b
}

// WithoutFlags omits the flags field.
func (b *AdvReportBuilder) WithoutFlags() *AdvReportBuilder {
	b.flags = nil
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvReportBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvReportBuilder {
	var fields struct {
		Address   *string `json:"address"`
		RSSI      *int    `json:"rssi"`
		Name      string  `json:"name"`
		ShortName string  `json:"short_name"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &fields); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	if fields.Address != nil {
		b.addr = *fields.Address
	}
	if fields.RSSI != nil {
		b.rssi = *fields.RSSI
	}
	b.name = fields.Name
	b.shortName = fields.ShortName
	return b
}

// Build returns the advertisement report event.
func (b *AdvReportBuilder) Build() event.AdvReport {
	var fields []advdata.Field
	if b.flags != nil {
		fields = append(fields, advdata.Field{Type: advdata.TypeFlags, Value: []byte{*b.flags}})
	}
	if b.shortName != "" {
		fields = append(fields, advdata.Field{Type: advdata.TypeShortLocalName, Value: []byte(b.shortName)})
	}
	if b.name != "" {
		fields = append(fields, advdata.Field{Type: advdata.TypeCompleteLocalName, Value: []byte(b.name)})
	}
	data, err := advdata.Encode(fields...)
	if err != nil {
		panic(fmt.Sprintf("Build: %v", err))
	}
	return event.AdvReport{Addr: b.addr, RSSI: b.rssi, Data: data}
}
