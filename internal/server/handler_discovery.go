package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "kthreads API",
		Version:     "v1",
		Description: "Simulated kernel thread scheduler: run scenarios and inspect their scheduling traces",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET", "POST"}, "List runs (?status=, ?scenario=, ?mlfqs=). POST a scenario YAML to execute it (?mlfqs=true forces the feedback-queue scheduler)"},
			{"/api/v1/runs/{id}", []string{"GET", "DELETE"}, "Run summary with final thread table and tick counters"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Scheduling trace of a run (?kind=, ?thread=)"},
			{"/api/v1/sse/runs/{id}", []string{"GET"}, "Replay a run's trace as Server-Sent Events"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
