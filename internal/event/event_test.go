package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSources(t *testing.T) {
	tests := []struct {
		ev   Event
		want Source
	}{
		{AdvReport{}, SourceGAP},
		{Connected{}, SourceGAP},
		{Disconnected{}, SourceGAP},
		{PHYUpdate{}, SourceGAP},
		{GATTTimeout{}, SourceGAP},
		{AuthorizeRequest{}, SourceGAP},
		{MTUUpdated{}, SourceGATT},
		{DataLengthUpdated{}, SourceGATT},
		{DiscoveryComplete{}, SourceClient},
		{Notification{}, SourceClient},
		{ReadBackResponse{}, SourceClient},
		{NotificationsEnabled{}, SourceServer},
		{NotificationsDisabled{}, SourceServer},
		{Command{}, SourceConsole},
		{StreamTick{}, SourceTimer},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.Source(), "%T", tt.ev)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "amt-client", SourceClient.String())
	assert.Equal(t, "unknown", Source(99).String())
	assert.Equal(t, "terminate", CmdTerminate.String())
	assert.Equal(t, "unknown", CommandKind(99).String())
}
