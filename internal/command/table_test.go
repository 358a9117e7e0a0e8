package command_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JushBJJ/Wormhole/internal/command"
)

var _ = DescribeTable("Parse",
	func(text, wantName string, wantArgs []string, wantOK bool) {
		name, args, ok := command.Parse("%", text)
		Expect(ok).To(Equal(wantOK))
		if wantOK {
			Expect(name).To(Equal(wantName))
			Expect(args).To(Equal(wantArgs))
		}
	},
	Entry("bare command", "%ping", "ping", []string{}, true),
	Entry("arguments", "%join general", "join", []string{"general"}, true),
	Entry("case folded", "%JOIN general", "join", []string{"general"}, true),
	Entry("surrounding space", "  %leave  ", "leave", []string{}, true),
	Entry("plain text", "hello", "", nil, false),
	Entry("prefix alone", "%", "", nil, false),
	Entry("space after prefix", "% ping", "", nil, false),
)

var _ = Describe("Spec", func() {
	spec := &command.Spec{
		Name: "penalty",
		Params: []command.Param{
			{Name: "who"},
			{Name: "delta", Kind: command.KindFloat},
		},
	}

	It("should render its usage", func() {
		Expect(spec.Usage()).To(Equal("penalty <who> <delta>"))
		opt := &command.Spec{Name: "help", Params: []command.Param{{Name: "command", Optional: true}}}
		Expect(opt.Usage()).To(Equal("help [command]"))
	})

	It("should bind typed arguments", func() {
		args, err := spec.Bind([]string{"abc", "1.5"})
		Expect(err).NotTo(HaveOccurred())
		Expect(args.String("who")).To(Equal("abc"))
		Expect(args.Float("delta")).To(Equal(1.5))
	})

	DescribeTable("should reject bad input",
		func(raw []string) {
			_, err := spec.Bind(raw)
			Expect(err).To(MatchError(command.ErrBadArguments))
		},
		Entry("missing", []string{"abc"}),
		Entry("not a number", []string{"abc", "lots"}),
		Entry("too many", []string{"abc", "1", "2"}),
	)

	It("should join the rest of the words", func() {
		s := &command.Spec{Name: "broadcast", Params: []command.Param{{Name: "category"}, {Name: "text", Kind: command.KindRest}}}
		args, err := s.Bind([]string{"general", "hello", "there"})
		Expect(err).NotTo(HaveOccurred())
		Expect(args.String("text")).To(Equal("hello there"))

		_, err = s.Bind([]string{"general"})
		Expect(err).To(MatchError(command.ErrBadArguments))
	})

	DescribeTable("switches",
		func(word string, want bool) {
			s := &command.Spec{Name: "react", Params: []command.Param{{Name: "state", Kind: command.KindSwitch}}}
			args, err := s.Bind([]string{word})
			Expect(err).NotTo(HaveOccurred())
			Expect(args.Switch("state")).To(Equal(want))
		},
		Entry("on", "on", true),
		Entry("ON", "ON", true),
		Entry("off", "off", false),
		Entry("false", "false", false),
	)
})
