package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/engagement-escrow/internal/handler"
)

type RouterOptions struct {
	RequireSignatures bool
	SignatureWindow   time.Duration
	Verifier          *Verifier // built from SignatureWindow when nil
	EnableFaucet      bool
	Metrics           http.Handler // served on /metrics when set
}

// NewRouter mounts the escrow API. Creator and oracle endpoints sit behind
// RequireSigner; reads and releases are open.
func NewRouter(ctrl *CampaignController, reads *handler.CampaignHandler, opts RouterOptions) chi.Router {
	var verifier *Verifier
	if opts.RequireSignatures {
		verifier = opts.Verifier
		if verifier == nil {
			verifier = NewVerifier(opts.SignatureWindow)
		}
	}
	signed := RequireSigner(verifier)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", reads.ListCampaignsHandler)
		r.With(signed).Post("/", ctrl.CreateCampaign)

		r.Route("/{address}", func(r chi.Router) {
			r.Get("/", reads.GetCampaignHandler)
			r.Get("/proofs", reads.ListProofsHandler)
			r.Post("/releases", ctrl.ReleasePayment)
			r.Post("/release-jobs", ctrl.EnqueueRelease)

			r.Group(func(r chi.Router) {
				r.Use(signed)
				r.Put("/oracle", ctrl.SetOracle)
				r.Post("/proofs", ctrl.SubmitProof)
			})
		})
	})

	r.Route("/accounts/{identity}", func(r chi.Router) {
		r.Get("/balance", reads.BalanceHandler)
		if opts.EnableFaucet {
			r.Post("/fund", ctrl.Fund)
		}
	})
	return r
}
