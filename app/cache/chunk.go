package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Limits of one persisted chunk
const (
	MaxChunkItems = 100
	MaxChunkBytes = 900 * 1024
)

// Pack splits stories into JSON array chunks of at most maxItems entries and
// maxBytes serialized bytes. A story that cannot fit alone loses its description.
func Pack(stories []Story, maxItems, maxBytes int) ([][]byte, error) {
	var chunks [][]byte
	var current [][]byte
	size := 2 // brackets

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, joinArray(current))
		current = nil
		size = 2
	}

	for _, story := range stories {
		encoded, err := encodeFitting(story, maxBytes-2)
		if err != nil {
			return nil, err
		}

		extra := len(encoded)
		if len(current) > 0 {
			extra++ // comma
		}

		if len(current) >= maxItems || size+extra > maxBytes {
			flush()
			extra = len(encoded)
		}

		current = append(current, encoded)
		size += extra
	}
	flush()

	return chunks, nil
}

// Unpack concatenates the stories of chunks in order
func Unpack(chunks [][]byte) ([]Story, error) {
	var stories []Story
	for i, chunk := range chunks {
		var part []Story
		if err := json.Unmarshal(chunk, &part); err != nil {
			return nil, fmt.Errorf("failed to decode chunk %d: %w", i, err)
		}
		stories = append(stories, part...)
	}
	return stories, nil
}

func encodeFitting(story Story, limit int) ([]byte, error) {
	encoded, err := json.Marshal(story)
	if err != nil {
		return nil, fmt.Errorf("failed to encode story %s: %w", story.ID, err)
	}
	if len(encoded) <= limit {
		return encoded, nil
	}

	// Trim the description to what is left after the other fields
	overflow := len(encoded) - limit
	story.Description = truncateBytes(story.Description, len(story.Description)-overflow)

	encoded, err = json.Marshal(story)
	if err != nil {
		return nil, fmt.Errorf("failed to encode story %s: %w", story.ID, err)
	}
	for len(encoded) > limit && story.Description != "" {
		story.Description = truncateBytes(story.Description, len(story.Description)/2)
		if encoded, err = json.Marshal(story); err != nil {
			return nil, fmt.Errorf("failed to encode story %s: %w", story.ID, err)
		}
	}
	if len(encoded) > limit {
		return nil, fmt.Errorf("story %s exceeds chunk size limit of %d bytes", story.ID, limit)
	}

	return encoded, nil
}

// truncateBytes cuts s to at most n bytes on a rune boundary
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func joinArray(items [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(items, []byte{','}))
	buf.WriteByte(']')
	return buf.Bytes()
}
