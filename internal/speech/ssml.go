package speech

import (
	"bytes"
	"encoding/xml"
	"errors"
)

// BuildSSML wraps text in the single-voice envelope the REST endpoint
// requires. text is escaped, never interpreted as markup.
func BuildSSML(lang, voice, text string) ([]byte, error) {
	if voice == "" {
		return nil, errors.New("voice name is required")
	}

	var buf bytes.Buffer
	buf.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="`)
	if err := xml.EscapeText(&buf, []byte(lang)); err != nil {
		return nil, err
	}
	buf.WriteString(`"><voice name="`)
	if err := xml.EscapeText(&buf, []byte(voice)); err != nil {
		return nil, err
	}
	buf.WriteString(`">`)
	if err := xml.EscapeText(&buf, []byte(text)); err != nil {
		return nil, err
	}
	buf.WriteString(`</voice></speak>`)
	return buf.Bytes(), nil
}
