package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JushBJJ/Wormhole/internal/core"
	"github.com/JushBJJ/Wormhole/internal/http/dto"
	"github.com/JushBJJ/Wormhole/internal/http/handler"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/relay"
)

var _ = Describe("MessageHandler", func() {
	var (
		router   *gin.Engine
		ingester *mockIngester
		envelope *mockEnvelopeRelayer
	)

	post := func(path string, body any) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	validRequest := func() dto.PostMessageRequest {
		return dto.PostMessageRequest{
			Platform:        "discord",
			ChannelID:       "42",
			PlatformUserID:  "7",
			DisplayName:     "alice",
			SpaceID:         "guild-1",
			Content:         "hello",
			SourcePermalink: "discord:42/99",
		}
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		ingester = &mockIngester{}
		envelope = &mockEnvelopeRelayer{}
		h := handler.NewMessageHandler(ingester, envelope)
		router.POST("/messages", h.Post)
		router.POST("/envelopes", h.PostEnvelope)
	})

	Describe("Post", func() {
		It("returns 202 with the fan-out summary for an admitted message", func() {
			var got model.InboundMessage
			ingester.handleFn = func(_ context.Context, msg model.InboundMessage) (core.Outcome, error) {
				got = msg
				return core.Outcome{Admitted: true, Relay: relay.Result{
					Category:  "general",
					Delivered: 2,
					Failed:    1,
					Removed:   []model.Endpoint{{Platform: "telegram", ChannelID: "-5"}},
				}}, nil
			}

			w := post("/messages", validRequest())
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(got.Channel).To(Equal(model.Endpoint{Platform: "discord", ChannelID: "42"}))
			Expect(got.SpaceID).To(Equal("guild-1"))
			Expect(got.SourcePermalink).To(Equal("discord:42/99"))

			var resp dto.PostMessageResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Admitted).To(BeTrue())
			Expect(resp.Category).To(Equal("general"))
			Expect(resp.Delivered).To(Equal(2))
			Expect(resp.Failed).To(Equal(1))
			Expect(resp.Removed).To(ConsistOf("telegram:-5"))
		})

		It("returns 200 with the reason for a refused message", func() {
			ingester.handleFn = func(context.Context, model.InboundMessage) (core.Outcome, error) {
				return core.Outcome{Reason: core.ReasonProofOfWork, Reply: "Proof of work failed"}, nil
			}

			w := post("/messages", validRequest())
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp dto.PostMessageResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Admitted).To(BeFalse())
			Expect(resp.Reason).To(Equal("proof_of_work"))
			Expect(resp.Reply).To(Equal("Proof of work failed"))
		})

		It("returns 400 when required fields are missing", func() {
			req := validRequest()
			req.PlatformUserID = ""
			called := false
			ingester.handleFn = func(context.Context, model.InboundMessage) (core.Outcome, error) {
				called = true
				return core.Outcome{}, nil
			}

			w := post("/messages", req)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(called).To(BeFalse())
		})

		It("returns 503 while the relay drains", func() {
			ingester.handleFn = func(context.Context, model.InboundMessage) (core.Outcome, error) {
				return core.Outcome{}, fmt.Errorf("relaying message: %w", relay.ErrDraining)
			}
			w := post("/messages", validRequest())
			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("returns 500 on unexpected errors", func() {
			ingester.handleFn = func(context.Context, model.InboundMessage) (core.Outcome, error) {
				return core.Outcome{}, errors.New("store offline")
			}
			w := post("/messages", validRequest())
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).NotTo(ContainSubstring("store offline"))
		})
	})

	Describe("PostEnvelope", func() {
		It("relays a bus envelope", func() {
			var got model.Envelope
			envelope.relayFn = func(_ context.Context, env model.Envelope) (relay.Result, error) {
				got = env
				return relay.Result{Category: env.Category, Delivered: 3}, nil
			}

			w := post("/envelopes", model.Envelope{Message: "hi", Category: "general", FromBridge: "matrix"})
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(got.FromBridge).To(Equal("matrix"))

			var resp dto.PostEnvelopeResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Delivered).To(Equal(3))
		})

		It("returns 400 without a category", func() {
			w := post("/envelopes", model.Envelope{Message: "hi", FromBridge: "matrix"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
