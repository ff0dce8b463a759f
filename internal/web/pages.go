package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"

	"site/internal/asyncdata"
	"site/internal/pages"
)

// Envelope is the JSON shape of a page slot.
type Envelope struct {
	Key    string           `json:"key"`
	Status asyncdata.Status `json:"status"`
	Data   *pages.Page      `json:"data"`
	Error  string           `json:"error,omitempty"`
}

type pageSignals struct {
	URL string `json:"url"`
}

type liveSignals struct {
	Page Envelope `json:"page"`
}

func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	url, ok, err := pageURL(r)
	if err != nil {
		s.handleBadRequest(w, "invalid signals")
		return
	}
	if !ok {
		s.handleBadRequest(w, "missing url parameter")
		return
	}

	result, err := s.pages.FetchPage(r.Context(), url)
	if err != nil {
		s.handleServerError(w, r, err)
		return
	}

	s.writeEnvelope(w, EnvelopeFromResult(result))
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	url, ok, err := pageURL(r)
	if err != nil {
		s.handleBadRequest(w, "invalid signals")
		return
	}
	if !ok {
		s.handleBadRequest(w, "missing url parameter")
		return
	}

	result, err := s.pages.FetchPage(r.Context(), url, asyncdata.Immediate(false))
	if err != nil {
		s.handleServerError(w, r, err)
		return
	}
	if err := result.Refresh(r.Context()); err != nil {
		s.handleServerError(w, r, err)
		return
	}

	envelope := EnvelopeFromResult(result)
	if snapshot, ok := s.pages.Peek(url); ok {
		envelope = envelopeFromSnapshot(snapshot)
	}
	w.Header().Set("Cache-Control", noStorePolicy)
	s.writeEnvelope(w, envelope)
}

// handleLive streams the page slot as Datastar signals until the client disconnects.
func (s *server) handleLive(w http.ResponseWriter, r *http.Request) {
	url, ok, err := pageURL(r)
	if err != nil {
		s.handleBadRequest(w, "invalid signals")
		return
	}
	if !ok {
		s.handleBadRequest(w, "missing url parameter")
		return
	}

	if _, err := s.pages.FetchPage(r.Context(), url, asyncdata.Lazy()); err != nil {
		s.handleServerError(w, r, err)
		return
	}

	updates, stop := s.pages.Watch(url)
	defer stop()

	setCachePolicy(w, s.cachePolicies.Live)
	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, open := <-updates:
			if !open {
				return
			}
			if err := sse.MarshalAndPatchSignals(liveSignals{Page: envelopeFromSnapshot(snapshot)}); err != nil {
				s.logger.Debug("live stream closed", zap.String("url", url), zap.Error(err))
				return
			}
		}
	}
}

func (s *server) writeEnvelope(w http.ResponseWriter, envelope Envelope) {
	statusCode := envelopeStatusCode(envelope)
	if w.Header().Get("Cache-Control") == "" {
		if statusCode == http.StatusOK {
			setCachePolicy(w, s.cachePolicies.Page)
		} else {
			setCachePolicy(w, s.cachePolicies.Error)
		}
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("encode page envelope", zap.String("key", envelope.Key), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(payload)
}

func envelopeStatusCode(envelope Envelope) int {
	switch envelope.Status {
	case asyncdata.StatusError:
		return http.StatusBadGateway
	case asyncdata.StatusSuccess:
		if envelope.Data == nil {
			return http.StatusNotFound
		}
		return http.StatusOK
	default:
		return http.StatusAccepted
	}
}

func EnvelopeFromResult(result asyncdata.Result[*pages.Page]) Envelope {
	return newEnvelope(result.Key, result.Status, result.Data, result.Err)
}

func envelopeFromSnapshot(snapshot asyncdata.Snapshot[*pages.Page]) Envelope {
	return newEnvelope(snapshot.Key, snapshot.Status, snapshot.Data, snapshot.Err)
}

func newEnvelope(key string, status asyncdata.Status, data *pages.Page, err error) Envelope {
	envelope := Envelope{Key: key, Status: status, Data: data}
	if err != nil {
		envelope.Error = err.Error()
	}
	return envelope
}

// pageURL reads the page url from the query string, falling back to Datastar signals.
// An explicitly empty url parameter is passed through as is.
func pageURL(r *http.Request) (string, bool, error) {
	query := r.URL.Query()
	if query.Has("url") {
		return query.Get("url"), true, nil
	}

	if r.Method == http.MethodGet && strings.TrimSpace(query.Get(datastar.DatastarKey)) == "" {
		return "", false, nil
	}
	if r.Method != http.MethodGet && r.Header.Get("Datastar-Request") != "true" {
		return "", false, nil
	}

	var signals pageSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		return "", false, err
	}
	if signals.URL == "" {
		return "", false, nil
	}
	return signals.URL, true, nil
}
