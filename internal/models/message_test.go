package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueueMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    QueueMessage
		wantErr error
	}{
		{
			name: "full message",
			body: `{"text":"Hello","voice":"af_sarah","speed":1.2,"lang":"en-gb"}`,
			want: QueueMessage{Text: "Hello", Voice: "af_sarah", Speed: 1.2, Lang: "en-gb"},
		},
		{
			name: "missing parameters use defaults",
			body: `{"text":"Hello"}`,
			want: QueueMessage{Text: "Hello", Voice: DefaultVoice, Speed: DefaultSpeed, Lang: DefaultLang},
		},
		{
			name:    "blank text",
			body:    `{"text":"   "}`,
			wantErr: ErrEmptyText,
		},
		{
			name:    "speed too fast",
			body:    `{"text":"Hello","speed":3}`,
			wantErr: ErrInvalidSpeed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQueueMessage([]byte(tt.body), DefaultDefaults())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueueMessage_Malformed(t *testing.T) {
	for _, body := range []string{"", "not json", `{"text":`, `["a"]`} {
		_, err := ParseQueueMessage([]byte(body), DefaultDefaults())
		assert.Error(t, err, "body %q", body)
	}
}

func TestQueueMessage_MarshalRoundTripsThroughParser(t *testing.T) {
	msg := NewQueueMessage("Short reply.", "", 0, "", DefaultDefaults())
	data, err := msg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"voice":"am_echo"`)

	parsed, err := ParseQueueMessage(data, Defaults{Voice: "other", Speed: 2, Lang: "fr"})
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)
}

func TestChunkLabel(t *testing.T) {
	short := QueueMessage{Text: "Short reply."}
	assert.Equal(t, "chunk #2: 'Short reply....'", ChunkLabel(2, short))

	long := QueueMessage{Text: strings.Repeat("é", 40)}
	label := ChunkLabel(1, long)
	assert.Equal(t, "chunk #1: '"+strings.Repeat("é", 30)+"...'", label)
}
