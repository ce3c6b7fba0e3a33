package twilio

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"

	"github.com/harunnryd/voxline/pkg/errorsx"
)

const (
	paramFrom = "from"
	paramTo   = "to"
)

// signed guards a Twilio webhook: POST only, and when an auth token is
// configured the X-Twilio-Signature must verify.
func (t *Transport) signed(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if t.cfg.AuthToken != "" && !t.verifySignature(r) {
			t.logger.Warn("twilio_invalid_signature",
				slog.String("webhook", name),
				slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// handleVoice answers an incoming call with TwiML that connects it to the
// media stream websocket.
func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	doc, err := streamTwiML(t.publicURL(r, "wss", t.cfg.WebsocketPath), r.FormValue("From"), r.FormValue("To"))
	if err != nil {
		t.logger.Error("twilio_twiml_failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, doc)
}

// handleStatus ends a call Twilio reports as finished before its stream
// said so, e.g. a caller hanging up while the socket lingers.
func (t *Transport) handleStatus(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)
	if err := r.ParseForm(); err != nil {
		return
	}
	reason, done := callEndReason(r.FormValue("CallStatus"))
	if !done {
		return
	}
	if s := t.streamForCall(r.FormValue("CallSid")); s != nil {
		t.end(s, reason, "")
	}
}

func (t *Transport) verifySignature(r *http.Request) bool {
	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, sig)
}

// requestURL rebuilds the URL Twilio signed: the configured public URL when
// the bridge sits behind a tunnel or proxy, otherwise the request's host.
func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = r.Header.Get("X-Forwarded-Proto")
	}
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + t.host(r) + r.URL.RequestURI()
}

// publicURL addresses path on this bridge as Twilio sees it. r may be nil.
func (t *Transport) publicURL(r *http.Request, scheme, path string) string {
	if t.cfg.PublicURL != "" {
		return scheme + "://" + hostOnly(t.cfg.PublicURL) + path
	}
	if r == nil {
		// Without a public URL only a local caller can reach us.
		if scheme == "https" {
			scheme = "http"
		}
		addr := t.cfg.ServerAddr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		return scheme + "://" + addr + path
	}
	return scheme + "://" + t.host(r) + path
}

func (t *Transport) host(r *http.Request) string {
	if r.Host != "" {
		return r.Host
	}
	return strings.TrimPrefix(t.cfg.ServerAddr, ":")
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range t.cfg.AllowedOrigins {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		switch {
		case allowed == "":
		case strings.Contains(allowed, "://"):
			if strings.EqualFold(allowed, u.Scheme+"://"+u.Host) {
				return true
			}
		case strings.EqualFold(allowed, u.Host):
			return true
		}
	}
	return false
}

// streamTwiML connects the call to wsURL and forwards the caller and
// dialled numbers as stream parameters, which Twilio echoes back in the
// stream's start event.
func streamTwiML(wsURL, from, to string) (string, error) {
	var params []twiml.Element
	for _, p := range [][2]string{{paramFrom, from}, {paramTo, to}} {
		if p[1] != "" {
			params = append(params, twiml.VoiceParameter{Name: p[0], Value: p[1]})
		}
	}
	return twiml.Voice([]twiml.Element{
		twiml.VoiceConnect{InnerElements: []twiml.Element{
			twiml.VoiceStream{Url: wsURL, InnerElements: params},
		}},
	})
}

func hostOnly(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
