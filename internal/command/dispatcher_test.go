package command_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JushBJJ/Wormhole/internal/command"
	"github.com/JushBJJ/Wormhole/internal/identity"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/moderation"
	"github.com/JushBJJ/Wormhole/internal/registry"
	"github.com/JushBJJ/Wormhole/internal/relay"
	"github.com/JushBJJ/Wormhole/internal/store/pebblestore"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx         context.Context
		stores      *pebblestore.Stores
		ids         *identity.Service
		reg         *registry.Registry
		broadcaster *mockBroadcaster
		d           *command.Dispatcher
		user, admin *model.Identity
		here        model.Endpoint
	)

	invoke := func(caller *model.Identity, text string) (string, error) {
		return d.Dispatch(ctx, command.Invocation{Caller: caller, Channel: here, SpaceID: "space-1"}, text)
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		stores, err = pebblestore.Open(pebblestore.Config{InMemory: true})
		Expect(err).NotTo(HaveOccurred())

		ids = identity.New(stores.Identities(), "salt")
		reg = registry.New(stores.Channels(), stores.Categories())
		broadcaster = &mockBroadcaster{}
		here = model.Endpoint{Platform: "telegram", ChannelID: "-100"}

		table := command.Commands(command.Deps{
			Identities: ids,
			Registry:   reg,
			Bans:       stores.Bans(),
			Relay:      broadcaster,
			Prefix:     "%",
			Version:    "test",
		})
		d = command.NewDispatcher(table, "%")

		user, err = ids.Resolve(ctx, "telegram:1")
		Expect(err).NotTo(HaveOccurred())
		_, err = ids.Resolve(ctx, "telegram:2")
		Expect(err).NotTo(HaveOccurred())
		admin, err = ids.SetRole(ctx, "telegram:2", model.RoleAdmin)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(stores.Close()).To(Succeed())
	})

	It("should answer ping", func() {
		Expect(invoke(user, "%ping")).To(Equal("Pong!"))
	})

	It("should recognise commands by prefix", func() {
		Expect(d.IsCommand("%ping")).To(BeTrue())
		Expect(d.IsCommand("ping")).To(BeFalse())
	})

	It("should refuse admin commands to users", func() {
		_, err := invoke(user, "%add_category memes")
		Expect(err).To(MatchError(command.ErrAdminRequired))
		Expect(d.Reply(err)).To(Equal("You must be an admin to use this command."))
	})

	It("should report unknown commands without a suggester", func() {
		_, err := invoke(user, "%frobnicate")
		Expect(err).To(MatchError(command.ErrUnknownCommand))
		Expect(d.Reply(err)).To(Equal("Unknown command. Try %help."))
	})

	It("should hide admin commands from a user's help", func() {
		out, err := invoke(user, "%help")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("%ping"))
		Expect(out).NotTo(ContainSubstring("%ban"))

		out, err = invoke(admin, "%help")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("%ban <who>"))
	})

	It("should describe a single command", func() {
		Expect(invoke(user, "%help join")).To(Equal("%join <category>: Relay this channel into a category"))
	})

	Describe("relay membership", func() {
		BeforeEach(func() {
			Expect(invoke(admin, "%add_category General")).To(Equal("Category general added."))
		})

		It("should join, refuse a second join, and leave", func() {
			Expect(invoke(user, "%join general")).To(Equal("Connected to general."))
			Expect(invoke(user, "%join general")).To(ContainSubstring("already in a category"))

			cat, ok, err := reg.CategoryOf(ctx, here)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(cat).To(Equal("general"))

			Expect(invoke(user, "%leave")).To(Equal("Left general."))
			Expect(invoke(user, "%leave")).To(Equal("This channel is not in a category."))
		})

		It("should reject unknown categories", func() {
			Expect(invoke(user, "%join nowhere")).To(ContainSubstring(`Unknown category "nowhere"`))
		})

		It("should list categories with counts", func() {
			_, err := invoke(user, "%join general")
			Expect(err).NotTo(HaveOccurred())
			Expect(invoke(user, "%categories")).To(Equal("Categories:\ngeneral (1)"))
		})

		It("should toggle reactions and mutes on the channel", func() {
			_, err := invoke(user, "%join general")
			Expect(err).NotTo(HaveOccurred())

			Expect(invoke(user, "%react on")).To(Equal("Reactions on."))
			Expect(invoke(user, "%mute "+admin.Hash[:8])).To(ContainSubstring("Muted"))

			ch, err := reg.Channel(ctx, here)
			Expect(err).NotTo(HaveOccurred())
			Expect(ch.Options.React).To(BeTrue())
			Expect(ch.Options.MutedUsers).To(ConsistOf(admin.Hash))

			Expect(invoke(user, "%unmute "+admin.Hash[:8])).To(ContainSubstring("Unmuted"))
			ch, err = reg.Channel(ctx, here)
			Expect(err).NotTo(HaveOccurred())
			Expect(ch.Options.MutedUsers).To(BeEmpty())
		})

		It("should only accept https webhooks", func() {
			_, err := invoke(user, "%join general")
			Expect(err).NotTo(HaveOccurred())

			_, err = invoke(admin, "%webhook http://insecure")
			Expect(err).To(MatchError(command.ErrBadArguments))

			Expect(invoke(admin, "%webhook https://discord.com/api/webhooks/1/x")).To(Equal("Webhook set."))
			ch, err := reg.Channel(ctx, here)
			Expect(err).NotTo(HaveOccurred())
			Expect(ch.Options.WebhookURL).To(Equal("https://discord.com/api/webhooks/1/x"))
		})

		It("should unbind members when a category is removed", func() {
			_, err := invoke(user, "%join general")
			Expect(err).NotTo(HaveOccurred())
			Expect(invoke(admin, "%remove_category general")).To(ContainSubstring("1 channel(s) unbound"))
		})
	})

	Describe("moderation", func() {
		It("should ban by hash prefix and unban", func() {
			Expect(invoke(admin, "%ban "+user.Hash[:10])).To(ContainSubstring("Banned"))
			banned, err := stores.Bans().Contains(ctx, model.BanKindIdentity, user.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(banned).To(BeTrue())

			Expect(invoke(admin, "%unban telegram:1")).To(ContainSubstring("Unbanned"))
			banned, err = stores.Bans().Contains(ctx, model.BanKindIdentity, user.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(banned).To(BeFalse())
		})

		It("should refuse to ban the caller", func() {
			_, err := invoke(admin, "%ban telegram:2")
			Expect(err).To(MatchError(command.ErrBadArguments))
		})

		It("should report unknown users", func() {
			_, err := invoke(admin, "%ban ffffffffffff")
			Expect(err).To(MatchError(command.ErrBadArguments))
		})

		It("should apply and clear penalties", func() {
			Expect(invoke(admin, "%penalty telegram:1 2.5")).To(ContainSubstring("penalty is now 2.50"))
			i, err := ids.Lookup(ctx, "telegram:1")
			Expect(err).NotTo(HaveOccurred())
			Expect(i.Difficulty).To(Equal(2.5))

			_, err = invoke(admin, "%reset_penalty telegram:1")
			Expect(err).NotTo(HaveOccurred())
			i, err = ids.Lookup(ctx, "telegram:1")
			Expect(err).NotTo(HaveOccurred())
			Expect(i.DifficultyPenalty).To(BeZero())
		})

		It("should promote and demote", func() {
			_, err := invoke(admin, "%promote telegram:1")
			Expect(err).NotTo(HaveOccurred())
			i, err := ids.Lookup(ctx, "telegram:1")
			Expect(err).NotTo(HaveOccurred())
			Expect(i.IsAdmin()).To(BeTrue())

			_, err = invoke(admin, "%demote telegram:1")
			Expect(err).NotTo(HaveOccurred())
			i, err = ids.Lookup(ctx, "telegram:1")
			Expect(err).NotTo(HaveOccurred())
			Expect(i.IsAdmin()).To(BeFalse())
		})

		It("should manage banned words", func() {
			_, err := invoke(admin, "%add_word Spam")
			Expect(err).NotTo(HaveOccurred())
			Expect(invoke(admin, "%words")).To(Equal("Banned words: spam"))
			_, err = invoke(admin, "%remove_word spam")
			Expect(err).NotTo(HaveOccurred())
			Expect(invoke(admin, "%words")).To(Equal("No banned words."))
		})

		It("should ban and unban spaces", func() {
			_, err := invoke(admin, "%ban_space guild-9")
			Expect(err).NotTo(HaveOccurred())
			banned, err := stores.Bans().Contains(ctx, model.BanKindSpace, "guild-9")
			Expect(err).NotTo(HaveOccurred())
			Expect(banned).To(BeTrue())
			Expect(invoke(admin, "%unban_space guild-9")).To(Equal("Unbanned space guild-9."))
		})
	})

	Describe("whois", func() {
		It("should resolve hash prefixes for anyone", func() {
			out, err := invoke(user, "%whois "+admin.Hash[:8])
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(admin.ShortHash()))
			Expect(out).NotTo(ContainSubstring("telegram:2"))
		})

		It("should limit native id lookups to admins and the user", func() {
			_, err := invoke(user, "%whois telegram:2")
			Expect(err).To(MatchError(command.ErrAdminRequired))

			_, err = invoke(user, "%whois telegram:1")
			Expect(err).NotTo(HaveOccurred())

			_, err = invoke(admin, "%whois telegram:1")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	It("should broadcast with the caller's attribution", func() {
		var gotCategory, gotText string
		broadcaster.broadcastFn = func(category, text string) (relay.Result, error) {
			gotCategory, gotText = category, text
			return relay.Result{Delivered: 3}, nil
		}
		out, err := invoke(admin, "%broadcast General server restart at noon")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("Broadcast to 3 channel(s) in general."))
		Expect(gotCategory).To(Equal("general"))
		Expect(gotText).To(HaveSuffix("\nserver restart at noon"))
		Expect(gotText).To(ContainSubstring(admin.ShortHash()))
	})

	It("should report proof-of-work status", func() {
		out, err := invoke(user, "%pow")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("difficulty: 0.000 (0 leading zeros)"))
	})

	Describe("with a suggester", func() {
		var suggester *mockSuggester

		BeforeEach(func() {
			suggester = &mockSuggester{}
			d.WithSuggester(suggester, ids, stores.Bans())
		})

		It("should run a confident suggestion", func() {
			suggester.suggestFn = func(input string, commands []string) (command.Suggestion, error) {
				Expect(input).To(Equal("%pnig"))
				Expect(commands).NotTo(ContainElement(HavePrefix("ban ")))
				return command.Suggestion{Command: "ping", Confidence: 9}, nil
			}
			Expect(invoke(user, "%pnig")).To(Equal("Pong!"))
		})

		It("should ask when unsure", func() {
			suggester.suggestFn = func(string, []string) (command.Suggestion, error) {
				return command.Suggestion{Command: "join", Args: []string{"general"}, Confidence: 3}, nil
			}
			Expect(invoke(user, "%jion general")).To(Equal("Unknown command. Did you mean %join <category>?"))
		})

		It("should never hand admin commands to users", func() {
			suggester.suggestFn = func(string, []string) (command.Suggestion, error) {
				return command.Suggestion{Command: "ban", Args: []string{"x"}, Confidence: 10}, nil
			}
			_, err := invoke(user, "%bna x")
			Expect(err).To(MatchError(command.ErrUnknownCommand))
		})

		It("should penalise spam", func() {
			suggester.suggestFn = func(string, []string) (command.Suggestion, error) {
				return command.Suggestion{Signal: moderation.Signal{Spam: 8}}, nil
			}
			_, err := invoke(user, "%buy cheap pills")
			Expect(err).To(MatchError(command.ErrUnknownCommand))

			i, err := ids.Lookup(ctx, "telegram:1")
			Expect(err).NotTo(HaveOccurred())
			Expect(i.DifficultyPenalty).To(Equal(1.0))
		})

		It("should not run or suggest a command once the input is flagged", func() {
			suggester.suggestFn = func(string, []string) (command.Suggestion, error) {
				return command.Suggestion{Command: "ping", Confidence: 10, Signal: moderation.Signal{Abuse: 7, Spam: 7}}, nil
			}
			reply, err := invoke(user, "%png you idiot")
			Expect(err).To(MatchError(command.ErrUnknownCommand))
			Expect(reply).To(BeEmpty())

			i, err := ids.Lookup(ctx, "telegram:1")
			Expect(err).NotTo(HaveOccurred())
			Expect(i.DifficultyPenalty).To(Equal(0.5))
		})

		It("should ban on a high ban probability", func() {
			suggester.suggestFn = func(string, []string) (command.Suggestion, error) {
				return command.Suggestion{Signal: moderation.Signal{BanProbability: 9}}, nil
			}
			_, _ = invoke(user, "%something vile")
			banned, err := stores.Bans().Contains(ctx, model.BanKindIdentity, user.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(banned).To(BeTrue())
		})

		It("should fall back to unknown when the suggester fails", func() {
			suggester.suggestFn = func(string, []string) (command.Suggestion, error) {
				return command.Suggestion{}, errors.New("rate limited")
			}
			_, err := invoke(user, "%zzz")
			Expect(err).To(MatchError(command.ErrUnknownCommand))
		})
	})
})
