package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/imq-dev/imq/internal/adapter/ws"
	"github.com/imq-dev/imq/internal/middleware"
)

// MountRoutes wires the full HTTP surface onto r: queue/entry CRUD, system
// configuration, stats, health, the webhook intake, and the event stream.
// webhookSecret is the HMAC signing secret GitHub signs each delivery with;
// with an empty secret the webhook route answers 503 to every delivery.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub, webhook http.Handler, webhookSecret string) {
	r.Get("/health", h.Health)
	r.Get("/ws/events", hub.HandleWS)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.WebhookHMAC(webhookSecret, "X-Hub-Signature-256")).Post("/github", webhook.ServeHTTP)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/queues", func(r chi.Router) {
			r.Get("/", h.ListQueues)
			r.Post("/", h.CreateQueue)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetQueue)
				r.Delete("/", h.DeleteQueue)
				r.Route("/entries", func(r chi.Router) {
					r.Get("/", h.ListEntries)
					r.Post("/", h.AddEntry)
					r.Put("/reorder", h.Reorder)
					r.Route("/{entry_id}", func(r chi.Router) {
						r.Get("/", h.GetEntry)
						r.Delete("/", h.RemoveEntry)
					})
				})
			})
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", h.GetConfig)
			r.Put("/", h.UpdateConfig)
			r.Post("/reset", h.ResetConfig)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/", h.Stats)
			r.Get("/queues/{id}", h.QueueStats)
			r.Get("/checks", h.CheckStats)
			r.Get("/github", h.GithubStats)
		})

		r.Route("/health", func(r chi.Router) {
			r.Get("/", h.APIHealth)
			r.Get("/github", h.ForgeHealth)
			r.Get("/database", h.DatabaseHealth)
		})
	})
}
