package core_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JushBJJ/Wormhole/core/config"
	"github.com/JushBJJ/Wormhole/internal/bridge"
	"github.com/JushBJJ/Wormhole/internal/bridge/webhook"
	"github.com/JushBJJ/Wormhole/internal/core"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store/pebblestore"
)

var _ = Describe("Core", func() {
	var (
		ctx    context.Context
		stores *pebblestore.Stores
		tg     *mockDeliverer
		dc     *mockDeliverer
		c      *core.Core
		src    model.Endpoint
		dst    model.Endpoint
	)

	inbound := func(userID, content string) model.InboundMessage {
		return model.InboundMessage{
			PlatformUserID:  userID,
			DisplayName:     "user" + userID,
			Channel:         src,
			SpaceID:         "space-1",
			Content:         content,
			SourcePermalink: src.String() + "/m-" + content,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		stores, err = pebblestore.Open(pebblestore.Config{InMemory: true})
		Expect(err).NotTo(HaveOccurred())

		tg = &mockDeliverer{platform: "telegram"}
		dc = &mockDeliverer{platform: "discord"}
		router := bridge.NewRouter(tg, dc)

		cfg := config.Config{
			IdentitySalt:  "salt",
			CommandPrefix: "%",
			Relay: config.RelayConfig{
				HeaderWindow:    1000 * time.Second,
				DeliveryTimeout: time.Second,
			},
			Moderation: config.ModerationConfig{FilterPenalty: 1},
		}
		c = core.New(cfg, core.Options{Stores: stores, Router: router, Version: "test"})

		src = model.Endpoint{Platform: "telegram", ChannelID: "-1"}
		dst = model.Endpoint{Platform: "discord", ChannelID: "2"}
		Expect(c.ApplySeed(ctx, config.Seed{
			Categories: []string{"general"},
			Admins:     []string{"telegram:admin"},
		})).To(Succeed())
		Expect(c.Registry.Join(ctx, src, "general", "space-1")).To(Succeed())
		Expect(c.Registry.Join(ctx, dst, "general", "space-2")).To(Succeed())
	})

	AfterEach(func() {
		Expect(stores.Close()).To(Succeed())
	})

	It("should relay an admitted message to the other members", func() {
		out, err := c.Handle(ctx, inbound("1", "hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Admitted).To(BeTrue())
		Expect(out.Relay.Category).To(Equal("general"))

		got := dc.to(dst)
		Expect(got).To(HaveLen(1))
		Expect(got[0].Content).To(Equal("hello"))
		Expect(got[0].Attribution).NotTo(BeNil())
		Expect(got[0].Attribution.DisplayName).To(Equal("user1"))
		Expect(tg.to(src)).To(BeEmpty())
	})

	It("should record the sender's profile", func() {
		_, err := c.Handle(ctx, inbound("1", "hello"))
		Expect(err).NotTo(HaveOccurred())

		id, err := c.Identities.Lookup(ctx, "telegram:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(id.Names).To(ConsistOf("user1"))
		Expect(id.Nonce).To(Equal(uint64(1)))
	})

	It("should refuse a banned identity without revealing the reason", func() {
		hash := c.Identities.HashOf("telegram:1")
		_, err := stores.Bans().Add(ctx, model.BanKindIdentity, hash)
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Handle(ctx, inbound("1", "hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Admitted).To(BeFalse())
		Expect(out.Reason).To(Equal(core.ReasonBanned))
		Expect(out.Reply).NotTo(ContainSubstring("ban"))
		Expect(dc.to(dst)).To(BeEmpty())
		Expect(tg.to(src)).To(HaveLen(1))
	})

	It("should refuse messages from a banned space", func() {
		_, err := stores.Bans().Add(ctx, model.BanKindSpace, "space-1")
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Handle(ctx, inbound("1", "hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Reason).To(Equal(core.ReasonSpaceBanned))
		Expect(dc.to(dst)).To(BeEmpty())
	})

	It("should block filtered words and penalize the sender", func() {
		_, err := stores.Bans().Add(ctx, model.BanKindWord, "spamword")
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Handle(ctx, inbound("1", "buy SPAMWORD now"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Reason).To(Equal(core.ReasonContentFiltered))
		Expect(dc.to(dst)).To(BeEmpty())

		id, err := c.Identities.Lookup(ctx, "telegram:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(id.DifficultyPenalty).To(Equal(1.0))
	})

	It("should deny a message that fails proof of work", func() {
		_, err := c.Handle(ctx, inbound("1", "first"))
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Identities.AddPenalty(ctx, "telegram:1", 12)
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Handle(ctx, inbound("1", "second"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Admitted).To(BeFalse())
		Expect(out.Reason).To(Equal(core.ReasonProofOfWork))
		Expect(out.Reply).To(ContainSubstring("Proof of work failed"))
		Expect(dc.to(dst)).To(HaveLen(1))

		id, err := c.Identities.Lookup(ctx, "telegram:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(id.CanSend).To(BeFalse())
	})

	It("should refuse commands from a sender who fails proof of work", func() {
		_, err := c.Handle(ctx, inbound("1", "first"))
		Expect(err).NotTo(HaveOccurred())
		_, err = c.Identities.AddPenalty(ctx, "telegram:1", 6)
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Handle(ctx, inbound("1", "%ping"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Reason).To(Equal(core.ReasonProofOfWork))
		Expect(out.Reply).To(ContainSubstring("proof-of-work puzzle"))
		Expect(out.Reply).NotTo(ContainSubstring("Pong"))

		id, err := c.Identities.Lookup(ctx, "telegram:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(id.Nonce).To(Equal(uint64(2)))
		Expect(id.History).To(HaveLen(1))
	})

	It("should keep commands out of the message history", func() {
		_, err := c.Handle(ctx, inbound("1", "%ping"))
		Expect(err).NotTo(HaveOccurred())

		id, err := c.Identities.Lookup(ctx, "telegram:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(id.Nonce).To(Equal(uint64(1)))
		Expect(id.History).To(BeEmpty())
	})

	Describe("unbound channels", func() {
		var loose model.Endpoint

		BeforeEach(func() {
			loose = model.Endpoint{Platform: "telegram", ChannelID: "-99"}
		})

		It("should leave messages local without touching reputation", func() {
			msg := inbound("1", "just chatting")
			msg.Channel = loose

			out, err := c.Handle(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Admitted).To(BeFalse())
			Expect(out.Reason).To(Equal(core.ReasonUnbound))
			Expect(out.Reply).To(BeEmpty())
			Expect(tg.to(loose)).To(BeEmpty())
			Expect(dc.to(dst)).To(BeEmpty())

			_, err = c.Identities.Lookup(ctx, "telegram:1")
			Expect(err).To(HaveOccurred())
		})

		It("should not count unbound chatter against later relayed messages", func() {
			for i := 0; i < 30; i++ {
				msg := inbound("1", fmt.Sprintf("local %d", i))
				msg.Channel = loose
				_, err := c.Handle(ctx, msg)
				Expect(err).NotTo(HaveOccurred())
			}

			out, err := c.Handle(ctx, inbound("1", "hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Admitted).To(BeTrue())
			Expect(tg.to(src)).To(BeEmpty())
		})

		It("should still answer commands", func() {
			msg := inbound("1", "%ping")
			msg.Channel = loose

			out, err := c.Handle(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Reason).To(Equal(core.ReasonCommand))
			Expect(tg.to(loose)).To(HaveLen(1))
		})
	})

	It("should attribute under the name the message was sent with", func() {
		for i, name := range []string{"Alice", "Bob", "Alice"} {
			msg := inbound("1", fmt.Sprintf("%d as %s", i, name))
			msg.DisplayName = name
			_, err := c.Handle(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
		}

		got := dc.to(dst)
		Expect(got).To(HaveLen(3))
		Expect(got[2].Attribution.DisplayName).To(Equal("Alice"))
	})

	It("should run commands instead of relaying them", func() {
		out, err := c.Handle(ctx, inbound("1", "%ping"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Admitted).To(BeFalse())
		Expect(out.Reason).To(Equal(core.ReasonCommand))
		Expect(out.Reply).NotTo(BeEmpty())
		Expect(dc.to(dst)).To(BeEmpty())

		replies := tg.to(src)
		Expect(replies).To(HaveLen(1))
		Expect(replies[0].Attribution).To(BeNil())
		Expect(replies[0].ThreadTarget).To(Equal(src.String() + "/m-%ping"))
	})

	It("should reply with the admin requirement for admin commands", func() {
		out, err := c.Handle(ctx, inbound("1", "%ban telegram:2"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Reply).To(Equal("You must be an admin to use this command."))
	})

	It("should let a seeded admin run admin commands", func() {
		_, err := c.Handle(ctx, inbound("2", "hi"))
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Handle(ctx, inbound("admin", "%ban telegram:2"))
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Handle(ctx, inbound("2", "again"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Reason).To(Equal(core.ReasonBanned))
	})

	It("should react to relayed messages when the channel asks for it", func() {
		Expect(c.Registry.SetOptions(ctx, src, model.ChannelOptions{React: true})).To(Succeed())

		msg := inbound("1", "hello")
		_, err := c.Handle(ctx, msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(tg.reacted()).To(ConsistOf(reaction{src, msg.SourcePermalink, "✅"}))
	})

	It("should not react by default", func() {
		_, err := c.Handle(ctx, inbound("1", "hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(tg.reacted()).To(BeEmpty())
	})

	It("should satisfy the bridge entry point", func() {
		var h bridge.InboundHandler = c
		admitted, err := h.OnInboundMessage(ctx, inbound("1", "hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(admitted).To(BeTrue())
	})

	Describe("ApplySeed", func() {
		It("should be idempotent", func() {
			seed := config.Seed{
				Categories:   []string{"general", "memes"},
				Admins:       []string{"telegram:admin"},
				BannedWords:  []string{"Spamword"},
				BannedSpaces: []string{"guild-42"},
			}
			Expect(c.ApplySeed(ctx, seed)).To(Succeed())
			Expect(c.ApplySeed(ctx, seed)).To(Succeed())

			admin, err := c.Identities.Lookup(ctx, "telegram:admin")
			Expect(err).NotTo(HaveOccurred())
			Expect(admin.IsAdmin()).To(BeTrue())

			words, err := stores.Bans().List(ctx, model.BanKindWord)
			Expect(err).NotTo(HaveOccurred())
			Expect(words).To(HaveLen(1))
			Expect(words[0].Value).To(Equal("spamword"))

			ok, err := c.Registry.CategoryExists(ctx, "memes")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("WebhookURLs", func() {
		It("should resolve the URL stored on the channel", func() {
			Expect(c.Registry.SetOptions(ctx, dst, model.ChannelOptions{WebhookURL: "https://hooks.example/1"})).To(Succeed())
			url, err := c.WebhookURLs().WebhookURL(ctx, dst)
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://hooks.example/1"))
		})

		It("should report channels without a webhook", func() {
			_, err := c.WebhookURLs().WebhookURL(ctx, dst)
			Expect(err).To(MatchError(webhook.ErrNoWebhook))
		})
	})
})
