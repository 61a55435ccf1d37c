package backend_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatstream/pkg/azure"
	"github.com/papercomputeco/chatstream/pkg/azure/azuretest"
	"github.com/papercomputeco/chatstream/pkg/backend"
	"github.com/papercomputeco/chatstream/pkg/kernel"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

var transcript = llm.Transcript{
	{Role: llm.RoleSystem, Content: "sys"},
	{Role: llm.RoleUser, Content: "Hi"},
	{Role: llm.RoleAssistant, Content: "Hello"},
	{Role: llm.RoleUser, Content: "More"},
}

var params = llm.Params{MaxTokens: 32, Temperature: 0.2, TopP: 1}

var _ = Describe("Managed", func() {
	var fake *azuretest.Server

	AfterEach(func() {
		if fake != nil {
			fake.Close()
			fake = nil
		}
	})

	It("fails acquisition without a kernel", func() {
		var m *backend.Managed

		Expect(m.Acquire().OK()).To(BeFalse())
		Expect(backend.NewManaged(nil, "").Acquire().OK()).To(BeFalse())
	})

	It("fails acquisition when no service is registered", func() {
		acq := backend.NewManaged(kernel.New(), "").Acquire()

		Expect(acq.OK()).To(BeFalse())
		Expect(errors.Is(acq.Err, kernel.ErrNoService)).To(BeTrue())
	})

	It("fails acquisition when the service cannot be built", func() {
		k := kernel.New()
		k.AddAzureService(azure.Settings{}, nil)

		acq := backend.NewManaged(k, "").Acquire()

		Expect(acq.OK()).To(BeFalse())
		_, ok := llm.AsConfigError(acq.Err)
		Expect(ok).To(BeTrue())
	})

	It("streams the transcript through the kernel service", func() {
		fake = azuretest.NewServer("A", "B")
		k := kernel.New()
		k.AddAzureService(fake.Settings(), nil)

		acq := backend.NewManaged(k, kernel.AzureServiceID).Acquire()
		Expect(acq.OK()).To(BeTrue())
		Expect(acq.Backend.Name()).To(Equal("managed"))

		s, err := acq.Backend.Stream(context.Background(), transcript, params)
		Expect(err).NotTo(HaveOccurred())
		text, err := llm.Collect(s)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("AB"))

		msgs := fake.Requests()[0].Body["messages"].([]any)
		Expect(msgs).To(HaveLen(len(transcript)))
		for i, m := range transcript {
			Expect(msgs[i]).To(HaveKeyWithValue("role", string(m.Role)))
			Expect(msgs[i]).To(HaveKeyWithValue("content", m.Content))
		}
	})
})

var _ = Describe("Direct", func() {
	var fake *azuretest.Server

	AfterEach(func() {
		if fake != nil {
			fake.Close()
			fake = nil
		}
	})

	It("reports missing credentials without touching the network", func() {
		d := backend.NewDirect(azure.Settings{Deployment: "d"}, nil)

		err := d.Ready()

		Expect(err).To(MatchError("Missing Azure OpenAI settings: AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT must be set"))
	})

	It("reports a missing deployment", func() {
		fake = azuretest.NewServer()
		s := fake.Settings()
		s.Deployment = ""

		err := backend.NewDirect(s, nil).Ready()

		Expect(err).To(MatchError("AZURE_OPENAI_DEPLOYMENT is not set"))
		Expect(fake.Requests()).To(BeEmpty())
	})

	It("streams fragments in order", func() {
		fake = azuretest.NewServer("one ", "two ", "three")
		d := backend.NewDirect(fake.Settings(), nil)
		Expect(d.Ready()).To(Succeed())

		s, err := d.Stream(context.Background(), transcript, params)
		Expect(err).NotTo(HaveOccurred())

		var got []string
		for {
			frag, err := s.Recv()
			if err != nil {
				break
			}
			got = append(got, frag)
		}
		Expect(s.Close()).To(Succeed())
		Expect(got).To(Equal([]string{"one ", "two ", "three"}))
		Expect(fake.Requests()[0].Body).To(HaveKeyWithValue("max_tokens", BeNumerically("==", 32)))
	})

	It("names itself in upstream errors", func() {
		fake = azuretest.NewServer()
		fake.Status = 429
		fake.ErrorBody = `{"error":{"code":"429","message":"Rate limit reached"}}`

		_, err := backend.NewDirect(fake.Settings(), nil).Stream(context.Background(), transcript, params)

		ue, ok := llm.AsUpstreamError(err)
		Expect(ok).To(BeTrue())
		Expect(ue.Backend).To(Equal("direct"))
		Expect(ue.StatusCode).To(Equal(429))
		Expect(ue.Message).To(Equal("Rate limit reached"))
	})
})
