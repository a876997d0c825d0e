package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/viewbridge/internal/runtime/interactivity"
	"github.com/drblury/viewbridge/internal/runtime/jsoncodec"
	metricspkg "github.com/drblury/viewbridge/internal/runtime/metrics"
	"github.com/drblury/viewbridge/internal/runtime/service"
	"github.com/drblury/viewbridge/transport"
)

// ServiceInfo describes one mounted view for the inspector.
type ServiceInfo struct {
	Key           string   `json:"key"`
	NodeID        string   `json:"node_id"`
	ProjectID     string   `json:"project_id"`
	WorkflowID    string   `json:"workflow_id"`
	ExtensionType string   `json:"extension_type"`
	PendingCalls  int      `json:"pending_calls"`
	Subscriptions []string `json:"subscriptions"`
}

// Stats is the body of /api/stats.
type Stats struct {
	Transport transport.Capabilities `json:"transport"`
	Metrics   metricspkg.Snapshot    `json:"metrics"`
}

// Services lists the registered views ordered by key.
func (h *Host) Services() []ServiceInfo {
	services := h.registry.List()
	infos := make([]ServiceInfo, 0, len(services))
	for _, svc := range services {
		id := svc.Identity()
		info := ServiceInfo{
			Key:           id.Key(),
			NodeID:        id.NodeID,
			ProjectID:     id.ProjectID,
			WorkflowID:    id.WorkflowID,
			ExtensionType: id.ExtensionType,
			Subscriptions: []string{},
		}
		if instance, ok := svc.(*service.Instance); ok {
			info.PendingCalls = instance.Pending()
			info.Subscriptions = instance.Subscriptions()
		}
		infos = append(infos, info)
	}
	return infos
}

// InspectorHandler serves the read-only inspector API.
func (h *Host) InspectorHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/services", h.inspectorEndpoint(func() any { return h.Services() }))
	mux.Handle("/api/interactivity", h.inspectorEndpoint(func() any {
		topics := h.bus.Topics()
		if topics == nil {
			topics = []interactivity.TopicInfo{}
		}
		return topics
	}))
	mux.Handle("/api/stats", h.inspectorEndpoint(func() any {
		return Stats{Transport: h.Capabilities(), Metrics: h.metrics.GetSnapshot()}
	}))
	return mux
}

func (h *Host) registerInspector(port int) {
	h.RegisterHTTPHandler(port, "/api/", h.InspectorHandler())
}

func (h *Host) inspectorEndpoint(body func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if allowed := h.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet:
		default:
			w.Header().Set("Allow", "GET, OPTIONS")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := jsoncodec.Encode(w, body()); err != nil {
			h.Logger.Error("Failed to encode inspector response", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (h *Host) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range h.Conf.InspectorCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
