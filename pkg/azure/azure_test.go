package azure_test

import (
	"context"
	"errors"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/azure"
	"github.com/papercomputeco/chatstream/pkg/azure/azuretest"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

var _ = Describe("Settings", func() {
	DescribeTable("Check",
		func(s azure.Settings, wantSetting string) {
			err := s.Check()
			if wantSetting == "" {
				Expect(err).NotTo(HaveOccurred())
				return
			}
			ce, ok := llm.AsConfigError(err)
			Expect(ok).To(BeTrue())
			Expect(ce.Setting).To(Equal(wantSetting))
		},
		Entry("complete", azure.Settings{APIKey: "k", Endpoint: "https://x", Deployment: "d"}, ""),
		Entry("missing key", azure.Settings{Endpoint: "https://x", Deployment: "d"}, "AZURE_OPENAI_API_KEY,AZURE_OPENAI_ENDPOINT"),
		Entry("missing endpoint", azure.Settings{APIKey: "k", Deployment: "d"}, "AZURE_OPENAI_API_KEY,AZURE_OPENAI_ENDPOINT"),
		Entry("missing everything reports credentials first", azure.Settings{}, "AZURE_OPENAI_API_KEY,AZURE_OPENAI_ENDPOINT"),
		Entry("missing deployment", azure.Settings{APIKey: "k", Endpoint: "https://x"}, "AZURE_OPENAI_DEPLOYMENT"),
		Entry("blank deployment", azure.Settings{APIKey: "k", Endpoint: "https://x", Deployment: "  "}, "AZURE_OPENAI_DEPLOYMENT"),
	)

	It("uses the exact deployment message", func() {
		err := azure.Settings{APIKey: "k", Endpoint: "https://x"}.Check()

		Expect(err).To(MatchError("AZURE_OPENAI_DEPLOYMENT is not set"))
	})
})

var _ = Describe("Request", func() {
	It("maps transcript and params", func() {
		transcript := llm.Transcript{
			{Role: llm.RoleSystem, Content: "sys"},
			{Role: llm.RoleUser, Content: "Hi"},
		}
		req := azure.Request("gpt-4o", transcript, llm.Params{MaxTokens: 100, Temperature: 0.5, TopP: 0.9})

		Expect(req.Model).To(Equal("gpt-4o"))
		Expect(req.Stream).To(BeTrue())
		Expect(req.MaxTokens).To(Equal(100))
		Expect(req.Temperature).To(BeNumerically("~", 0.5, 1e-6))
		Expect(req.TopP).To(BeNumerically("~", 0.9, 1e-6))
		Expect(req.Messages).To(HaveLen(2))
		Expect(req.Messages[0].Role).To(Equal("system"))
		Expect(req.Messages[1].Content).To(Equal("Hi"))
	})

	It("keeps an explicit zero temperature on the wire", func() {
		req := azure.Request("d", nil, llm.Params{MaxTokens: 1, Temperature: 0, TopP: 1})

		Expect(req.Temperature).To(BeNumerically(">", 0))
		Expect(req.Temperature).To(BeNumerically("<", 1e-30))
	})
})

var _ = Describe("OpenStream", func() {
	var (
		ctx    context.Context
		fake   *azuretest.Server
		masker *llm.Masker
	)

	open := func(f *azuretest.Server) (llm.Stream, error) {
		s := f.Settings()
		client := azure.NewClient(s)
		req := azure.Request(s.Deployment, llm.Transcript{{Role: llm.RoleUser, Content: "Hello"}}, llm.Params{MaxTokens: 16, Temperature: 0.2, TopP: 1})
		return azure.OpenStream(ctx, client, req, "azure", masker)
	}

	BeforeEach(func() {
		ctx = context.Background()
		masker = llm.NewMasker("test-key")
	})

	AfterEach(func() {
		if fake != nil {
			fake.Close()
			fake = nil
		}
	})

	It("yields fragments in upstream order", func() {
		fake = azuretest.NewServer("He", "llo")

		s, err := open(fake)
		Expect(err).NotTo(HaveOccurred())

		first, err := s.Recv()
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal("He"))

		second, err := s.Recv()
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal("llo"))

		_, err = s.Recv()
		Expect(err).To(MatchError(io.EOF))
		Expect(s.Close()).To(Succeed())
	})

	It("skips empty deltas and events without choices", func() {
		fake = azuretest.NewServer()
		fake.Chunks = []*string{nil, azuretest.Str(""), azuretest.Str("A"), nil, azuretest.Str("B")}

		s, err := open(fake)
		Expect(err).NotTo(HaveOccurred())

		text, err := llm.Collect(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("AB"))
	})

	It("addresses the deployment with the api key header and version", func() {
		fake = azuretest.NewServer("ok")

		s, err := open(fake)
		Expect(err).NotTo(HaveOccurred())
		_, err = llm.Collect(s)
		Expect(err).NotTo(HaveOccurred())

		reqs := fake.Requests()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Path).To(Equal("/openai/deployments/chat-deployment/chat/completions"))
		Expect(reqs[0].Query).To(ContainSubstring("api-version=2024-07-01-preview"))
		Expect(reqs[0].APIKey).To(Equal("test-key"))
		Expect(reqs[0].Body["stream"]).To(Equal(true))
		Expect(reqs[0].Body["max_tokens"]).To(BeNumerically("==", 16))
	})

	It("reports a rejected request as an upstream error", func() {
		fake = azuretest.NewServer()
		fake.Status = http.StatusUnauthorized
		fake.ErrorBody = `{"error":{"code":"401","message":"Access denied due to invalid subscription key test-key."}}`

		_, err := open(fake)
		ue, ok := llm.AsUpstreamError(err)
		Expect(ok).To(BeTrue())
		Expect(ue.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(ue.Message).To(ContainSubstring("Access denied"))
		Expect(ue.Message).NotTo(ContainSubstring("test-key"))
	})

	It("falls back to the status text when the error body is not JSON", func() {
		fake = azuretest.NewServer()
		fake.Status = http.StatusBadGateway
		fake.ErrorBody = "<html>bad gateway</html>"

		_, err := open(fake)
		ue, ok := llm.AsUpstreamError(err)
		Expect(ok).To(BeTrue())
		Expect(ue.StatusCode).To(Equal(http.StatusBadGateway))
		Expect(ue.Message).To(Equal("Bad Gateway"))
	})

	It("reports a broken connection mid-stream as an upstream error after the prior fragments", func() {
		fake = azuretest.NewServer("par", "tial", "never")
		fake.AbortAfter = 2

		s, err := open(fake)
		Expect(err).NotTo(HaveOccurred())

		text, err := llm.Collect(s)
		Expect(text).To(Equal("partial"))
		_, ok := llm.AsUpstreamError(err)
		Expect(ok).To(BeTrue())
	})

	It("returns ErrStreamClosed after Close", func() {
		fake = azuretest.NewServer("a", "b")

		s, err := open(fake)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())
		Expect(s.Close()).To(Succeed())

		_, err = s.Recv()
		Expect(err).To(MatchError(llm.ErrStreamClosed))
	})
})

var _ = Describe("Classify", func() {
	It("passes context cancellation through", func() {
		err := azure.Classify("azure", context.Canceled, nil)

		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		_, ok := llm.AsUpstreamError(err)
		Expect(ok).To(BeFalse())
	})

	It("wraps unknown errors with a masked message", func() {
		err := azure.Classify("azure", errors.New("dial tcp: Bearer abc.def refused"), llm.NewMasker())

		ue, ok := llm.AsUpstreamError(err)
		Expect(ok).To(BeTrue())
		Expect(ue.Message).To(Equal("dial tcp: Bearer ***MASKED*** refused"))
	})

	It("returns nil for nil", func() {
		Expect(azure.Classify("azure", nil, nil)).To(BeNil())
	})
})
