package controlplane_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentmesh/awcp/pkg/distributor"
	"github.com/agentmesh/awcp/pkg/fabric"
	"github.com/agentmesh/awcp/pkg/quality"
	"github.com/agentmesh/awcp/pkg/resources"
)

func TestControlPlane(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ControlPlane Suite")
}

func scoreOf(v float64) *float64 { return &v }

var _ = Describe("Task Distributor", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("matches by capability and breaks ties on priority (scenario A)", func() {
		d := distributor.New()
		Expect(d.RegisterAgent("A1", []string{"x"}, 1, "")).To(Succeed())
		Expect(d.RegisterAgent("A2", []string{"x", "y"}, 1, "")).To(Succeed())

		Expect(d.SubmitTask("T1", "build", []string{"y"}, 1, "")).To(Succeed())
		Expect(d.SubmitTask("T2", "build", []string{"x"}, 5, "")).To(Succeed())

		assignments := d.Distribute(ctx, "")
		Expect(assignments).To(Equal(map[string]string{"T2": "A1", "T1": "A2"}))
	})

	It("isolates tenants from each other's queues (scenario B)", func() {
		d := distributor.New()
		Expect(d.RegisterAgent("A1", []string{"x"}, 2, "c1")).To(Succeed())
		Expect(d.RegisterAgent("A2", []string{"x"}, 2, "c2")).To(Succeed())

		Expect(d.SubmitTask("T1", "build", []string{"x"}, 1, "c1")).To(Succeed())
		Expect(d.SubmitTask("T2", "build", []string{"x"}, 1, "c2")).To(Succeed())

		assignments := d.Distribute(ctx, "")
		Expect(assignments).To(Equal(map[string]string{"T1": "A1", "T2": "A2"}))

		Expect(d.SubmitTask("T3", "build", []string{"x"}, 1, "c1")).To(Succeed())
		Expect(d.Distribute(ctx, "c2")).To(BeEmpty())
	})

	It("breaks a utilization tie using the quality controller's mean score (scenario E)", func() {
		q := quality.NewController()
		q.RecordFeedback(quality.FeedbackEntry{TaskID: "prior-1", AgentID: "A1", TaskType: "T", Score: scoreOf(0.9)})
		q.RecordFeedback(quality.FeedbackEntry{TaskID: "prior-2", AgentID: "A2", TaskType: "T", Score: scoreOf(0.6)})

		d := distributor.New(distributor.WithQualityController(q))
		Expect(d.RegisterAgent("A1", []string{"x"}, 1, "")).To(Succeed())
		Expect(d.RegisterAgent("A2", []string{"x"}, 1, "")).To(Succeed())
		Expect(d.SubmitTask("T1", "T", []string{"x"}, 1, "")).To(Succeed())

		assignments := d.Distribute(ctx, "")
		Expect(assignments).To(Equal(map[string]string{"T1": "A1"}))
	})
})

var _ = Describe("Resource Monitor", func() {
	It("fires threshold callbacks only on band transitions (scenario C)", func() {
		ctx := context.Background()
		m := resources.NewMonitor()
		Expect(m.RegisterResource("R", 100, 0.8, 0.95, "")).To(Succeed())

		var fired []struct {
			status resources.Status
			util   float64
		}
		m.RegisterThresholdCallback("R", func(resourceID string, status resources.Status, utilization float64) {
			fired = append(fired, struct {
				status resources.Status
				util   float64
			}{status, utilization})
		})

		Expect(m.UpdateUsage(ctx, "R", 50, "")).To(Succeed())
		status, util, _ := m.Status("R")
		Expect(status).To(Equal(resources.StatusNormal))
		Expect(util).To(BeNumerically("~", 0.5, 1e-9))
		Expect(fired).To(BeEmpty())

		Expect(m.UpdateUsage(ctx, "R", 85, "")).To(Succeed())
		Expect(fired).To(HaveLen(1))
		Expect(fired[0].status).To(Equal(resources.StatusWarning))
		Expect(fired[0].util).To(BeNumerically("~", 0.85, 1e-9))

		Expect(m.UpdateUsage(ctx, "R", 86, "")).To(Succeed())
		Expect(fired).To(HaveLen(1), "utilization staying in the warning band must not re-fire the callback")

		Expect(m.UpdateUsage(ctx, "R", 96, "")).To(Succeed())
		Expect(fired).To(HaveLen(2))
		Expect(fired[1].status).To(Equal(resources.StatusCritical))
	})
})

var _ = Describe("Agent Communication Fabric", func() {
	It("delivers a secure envelope across owners and fails closed on tampering (scenario D)", func() {
		ctx := context.Background()
		sender := fabric.New()
		recipient := fabric.New()

		var captured string
		recipient.RegisterHandler("secure_message", func(ctx context.Context, from string, content interface{}) (interface{}, error) {
			captured = content.(string)
			return nil, nil
		})

		key, err := sender.EnableSecurity(nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = recipient.EnableSecurity(key)
		Expect(err).NotTo(HaveOccurred())

		authKey := []byte("shared-auth-key")
		sender.RegisterAuthKey("s1", authKey)
		recipient.RegisterAuthKey("s1", authKey)
		sender.AuthorizeSender("s1")

		Expect(sender.SetCrossOwnerPolicy("secure")).To(Succeed())
		sender.AddOwnershipRoute("t2", recipient)

		delivery := sender.RouteByOwnership(ctx, "t1", "t2", "secure_message", "original content", "s1", nil)
		Expect(delivery.Status).To(Equal(fabric.StatusDelivered))
		Expect(captured).NotTo(BeEmpty())

		content, err := recipient.ReceiveSecureMessage("s1", captured)
		Expect(err).NotTo(HaveOccurred())
		Expect(content).To(Equal("original content"))

		tampered := captured[:len(captured)-4] + "abcd"
		_, err = recipient.ReceiveSecureMessage("s1", tampered)
		Expect(err).To(HaveOccurred())
	})

	It("denies cross-owner delivery under the deny policy", func() {
		ctx := context.Background()
		sender := fabric.New()
		recipient := fabric.New()
		sender.AddOwnershipRoute("t2", recipient)

		delivery := sender.RouteByOwnership(ctx, "t1", "t2", "greet", "hi", "s1", nil)
		Expect(delivery.Status).To(Equal(fabric.StatusFailed))
	})

	It("stamps a FIFO dedup id and default group on queue send (scenario F)", func() {
		ctx := context.Background()
		f := fabric.New()
		transport := newFakeQueueTransport()
		f.EnableQueue(transport)

		url, err := f.CreateQueue(ctx, "q.fifo", true, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(url).NotTo(BeEmpty())

		delivery := f.SendToQueue(ctx, "m", "payload", "q.fifo", "s1", nil, "")
		Expect(delivery.Status).To(Equal(fabric.StatusSent))
		Expect(transport.lastDedupID).NotTo(BeEmpty())
		Expect(transport.lastGroupID).To(Equal("default"))
	})
})

// fakeQueueTransport is an in-memory fabric.QueueTransport recording the
// group id and dedup id it was called with, so the test can assert the
// fabric itself supplies FIFO defaults rather than the transport.
type fakeQueueTransport struct {
	lastGroupID string
	lastDedupID string
}

func newFakeQueueTransport() *fakeQueueTransport {
	return &fakeQueueTransport{}
}

func (t *fakeQueueTransport) CreateQueue(ctx context.Context, name string, fifo bool, attributes map[string]string) (string, error) {
	return "https://queue.example/" + name, nil
}

func (t *fakeQueueTransport) SendMessage(ctx context.Context, queueURL, body, groupID, dedupID string) (string, error) {
	t.lastGroupID = groupID
	t.lastDedupID = dedupID
	return "msg-1", nil
}

func (t *fakeQueueTransport) ReceiveMessages(ctx context.Context, queueURL string, maxMessages, waitSeconds int32) ([]fabric.QueueMessage, error) {
	return nil, nil
}

func (t *fakeQueueTransport) DeleteMessage(ctx context.Context, queueURL, receiptHandle string) error {
	return nil
}
