package synthesis

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
)

const downloadBaseName = "voice"

// Response is a fully rendered reply. Nothing is written until WriteTo.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Format renders an outcome. errResp is ignored for Succeeded.
func Format(out Outcome, errResp ErrorResponse) Response {
	if out.Kind != Succeeded {
		return FormatError(errResp)
	}

	mimeType := out.MIMEType
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	h := http.Header{}
	h.Set("Content-Type", mimeType)
	h.Set("Content-Length", strconv.Itoa(len(out.Audio)))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": downloadBaseName + "." + extensionFor(mimeType),
	}))
	h.Set("Cache-Control", "no-store")

	return Response{Status: http.StatusOK, Header: h, Body: out.Audio}
}

// FormatError renders the JSON error shape.
func FormatError(errResp ErrorResponse) Response {
	body, _ := json.Marshal(errorBody{Code: errResp.Code, Message: errResp.Message})

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")

	return Response{Status: errResp.Status, Header: h, Body: body}
}

func (r Response) WriteTo(w http.ResponseWriter) error {
	for k, v := range r.Header {
		w.Header()[k] = append([]string(nil), v...)
	}
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	default:
		return "bin"
	}
}
