package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{name: "text", payload: Payload{Kind: KindText, Text: "hello"}},
		{name: "empty text", payload: Payload{Kind: KindText}, wantErr: true},
		{name: "image", payload: Payload{Kind: KindImage, ImageURL: "ref://1"}},
		{name: "image without ref", payload: Payload{Kind: KindImage}, wantErr: true},
		{name: "file", payload: Payload{Kind: KindFile, FileURL: "ref://2", FileName: "q3.pdf"}},
		{name: "file without name", payload: Payload{Kind: KindFile, FileURL: "ref://2"}, wantErr: true},
		{name: "unknown kind", payload: Payload{Kind: "audio"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPayloadPreview(t *testing.T) {
	require.Equal(t, "hello", Payload{Kind: KindText, Text: "hello"}.Preview())
	require.Equal(t, "[image]", Payload{Kind: KindImage, ImageURL: "ref://1"}.Preview())
	require.Equal(t, "[file] q3.pdf", Payload{Kind: KindFile, FileURL: "ref://2", FileName: "q3.pdf"}.Preview())
}

func TestMessageSnapshotAndSummary(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := &Message{
		ID:        primitive.NewObjectID(),
		Sender:    "emp1",
		Payload:   Payload{Kind: KindText, Text: "quarterly numbers"},
		CreatedAt: created,
	}

	snap := m.Snapshot()
	require.Equal(t, m.ID, snap.MessageID)
	require.Equal(t, "emp1", snap.Sender)
	require.Equal(t, "quarterly numbers", snap.Preview)
	require.Equal(t, KindText, snap.Kind)
	require.Equal(t, created, snap.Timestamp)

	sum := m.Summary()
	require.Equal(t, "emp1", sum.Sender)
	require.Equal(t, "quarterly numbers", sum.Preview)
	require.Equal(t, created, sum.Timestamp)
}

func TestMessageReadByUser(t *testing.T) {
	m := &Message{ReadBy: []ReadReceipt{{Reader: "emp2"}}}
	require.True(t, m.ReadByUser("emp2"))
	require.False(t, m.ReadByUser("emp3"))
}

func TestMessageContainer(t *testing.T) {
	require.Equal(t, RoomContainer("r1"), (&Message{RoomID: "r1"}).Container())
	require.Equal(t, DMContainer("a", "b"), (&Message{Participants: []string{"a", "b"}}).Container())
}
