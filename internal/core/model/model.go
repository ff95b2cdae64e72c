// Package model holds the shared types passed between the engine's stages.
package model

import "net/http"

// Response is the terminal result of handling one intercepted request.
// Every dispatch path produces one; no request is left unanswered.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) Write(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(r.Body)
}
