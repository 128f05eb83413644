package mooli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/chunk"
	"github.com/flarexio/mooli/document"
	"github.com/flarexio/mooli/document/local"
	"github.com/flarexio/mooli/job"
	"github.com/flarexio/mooli/persistence/chromem"
	"github.com/flarexio/mooli/pipeline"
	"github.com/flarexio/mooli/vector"

	redisq "github.com/flarexio/mooli/persistence/redis"
)

type keywordEmbedder struct{}

func (e *keywordEmbedder) Model() string   { return "fake-embed" }
func (e *keywordEmbedder) Dimensions() int { return 3 }

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	return []float32{
		float32(strings.Count(lower, "python")),
		float32(strings.Count(lower, "java")),
		0.1,
	}, nil
}

type fixedCompleter struct{}

func (c *fixedCompleter) Model() string { return "fake-complete" }

func (c *fixedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return "ANSWER", nil
}

func pad(s string, n int) string {
	return s + strings.Repeat(" ", n-len(s))
}

var guide = pad("Python is a language.", 40) + pad("Java runs on the JVM.", 40)

type slackRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *slackRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	form, _ := url.ParseQuery(string(body))

	r.mu.Lock()
	r.texts = append(r.texts, form.Get("text"))
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true,"channel":"C99","ts":"1.0"}`))
}

func (r *slackRecorder) posted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.texts...)
}

type mooliTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	mr     *miniredis.Miniredis
	queue  *redisq.Queue
	slack  *slackRecorder
	srv    *httptest.Server
	worker *job.Worker
	svc    Service
}

func (suite *mooliTestSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithCancel(context.Background())

	suite.mr = miniredis.RunT(suite.T())
	client := redis.NewClient(&redis.Options{Addr: suite.mr.Addr()})
	suite.T().Cleanup(func() { client.Close() })

	queue, err := redisq.NewQueue(suite.ctx, client, redisq.WithPrefix("test"))
	suite.Require().NoError(err)
	suite.queue = queue

	uploads, err := local.NewStore(suite.T().TempDir())
	suite.Require().NoError(err)

	store, err := chromem.NewChromemVectorStore(vector.Config{Path: suite.T().TempDir()})
	suite.Require().NoError(err)

	p := pipeline.New(
		&document.Mux{Local: uploads},
		chunk.New(chunk.WithSize(40), chunk.WithOverlap(0)),
		store,
		&keywordEmbedder{},
		&fixedCompleter{},
		pipeline.Config{K: 1},
	)

	suite.slack = &slackRecorder{}
	suite.srv = httptest.NewServer(suite.slack)
	suite.T().Cleanup(suite.srv.Close)

	adapters := channel.Adapters{
		Slack: channel.NewSlack(channel.SlackConfig{BotToken: "xoxb-test", APIURL: suite.srv.URL + "/"}),
		Teams: channel.NewTeams(suite.ctx, channel.TeamsConfig{}),
		Web:   channel.NewWeb(),
	}

	var cfg Config
	cfg.ApplyDefaults(suite.T().TempDir())

	svc := NewService(cfg, p, queue, uploads, adapters)
	suite.svc = LoggingMiddleware(zap.NewNop())(svc)

	suite.worker = job.NewWorker(queue, NewJobHandler(p, adapters, time.Second), job.Config{
		Concurrency:    1,
		DequeueTimeout: 50 * time.Millisecond,
		JobTimeout:     5 * time.Second,
	})
}

func (suite *mooliTestSuite) TearDownTest() {
	suite.worker.Stop()
	suite.cancel()
}

func (suite *mooliTestSuite) waitFor(taskID string, state job.State) *TaskStatus {
	var status *TaskStatus

	suite.Require().Eventually(func() bool {
		s, err := suite.svc.TaskStatus(suite.ctx, taskID)
		if err != nil {
			return false
		}

		status = s
		return s.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	suite.Require().Equal(state, status.Status, status.Error)
	return status
}

func (suite *mooliTestSuite) TestUploadThenChat() {
	receipt, err := suite.svc.Upload(suite.ctx, "guide.txt", strings.NewReader(guide))
	suite.Require().NoError(err)
	suite.NotEmpty(receipt.TaskID)

	status, err := suite.svc.TaskStatus(suite.ctx, receipt.TaskID)
	suite.Require().NoError(err)
	suite.Equal(job.StatePending, status.Status)
	suite.Equal(job.KindIngest, status.Kind)

	suite.worker.Start(suite.ctx)

	status = suite.waitFor(receipt.TaskID, job.StateSuccess)
	suite.Contains(status.Result, "Indexed 2 chunks of guide.txt")

	answer, err := suite.svc.Chat(suite.ctx, "What is Python?")
	suite.Require().NoError(err)
	suite.Equal("ANSWER", answer)
}

func (suite *mooliTestSuite) TestChatWithoutIndex() {
	answer, err := suite.svc.Chat(suite.ctx, "What is Python?")
	suite.Require().NoError(err)
	suite.Equal(pipeline.UnavailableMessage, answer)

	_, err = suite.svc.Chat(suite.ctx, "  ")
	suite.ErrorIs(err, pipeline.ErrEmptyQuery)
}

func (suite *mooliTestSuite) TestUploadUnsupported() {
	_, err := suite.svc.Upload(suite.ctx, "notes.docx", strings.NewReader("x"))
	suite.ErrorIs(err, document.ErrUnsupportedFormat)
}

func (suite *mooliTestSuite) TestSlackMessageDelivered() {
	event := `{"type":"event_callback","event_id":"Ev1","event":{
		"type":"message","user":"U1","text":"<@B1> What is Java?","channel":"C99","ts":"1.0001"}}`

	mention := `{"type":"event_callback","event_id":"Ev2","event":{
		"type":"app_mention","user":"U1","text":"<@B1> What is Java?","channel":"C99","ts":"1.0001"}}`

	receipt, err := suite.svc.Receive(suite.ctx, channel.PlatformSlack, []byte(event))
	suite.Require().NoError(err)
	suite.Equal(ReceiptOK, receipt.Status)
	suite.Equal("slack:C99:1.0001", receipt.TaskID)

	again, err := suite.svc.Receive(suite.ctx, channel.PlatformSlack, []byte(event))
	suite.Require().NoError(err)
	suite.Equal(receipt.TaskID, again.TaskID)

	both, err := suite.svc.Receive(suite.ctx, channel.PlatformSlack, []byte(mention))
	suite.Require().NoError(err)
	suite.Equal(receipt.TaskID, both.TaskID)

	suite.worker.Start(suite.ctx)

	status := suite.waitFor(receipt.TaskID, job.StateSuccess)
	suite.Equal(pipeline.UnavailableMessage, status.Result)

	suite.Equal([]string{SlackAcknowledgement, pipeline.UnavailableMessage}, suite.slack.posted())
}

func (suite *mooliTestSuite) TestSlackChallenge() {
	receipt, err := suite.svc.Receive(suite.ctx, channel.PlatformSlack,
		[]byte(`{"token":"t","challenge":"c-123","type":"url_verification"}`))
	suite.Require().NoError(err)
	suite.Equal("c-123", receipt.Challenge)
	suite.Empty(receipt.TaskID)
}

func (suite *mooliTestSuite) TestTeamsRejectCreatesNoJob() {
	activity := `{"type":"message","serviceUrl":"https://smba.example.com","from":{"id":"u1"},"text":"hi"}`

	receipt, err := suite.svc.Receive(suite.ctx, channel.PlatformTeams, []byte(activity))
	suite.Require().NoError(err)
	suite.Equal(ReceiptIgnored, receipt.Status)
	suite.Equal(channel.FallbackMessage, receipt.Message)
	suite.Empty(receipt.TaskID)

	keys := suite.mr.Keys()
	for _, key := range keys {
		suite.False(strings.HasPrefix(key, "test:job:"), key)
	}
}

func (suite *mooliTestSuite) TestWebReceiveAnswersAsync() {
	receipt, err := suite.svc.Receive(suite.ctx, channel.PlatformWeb, []byte(`{"message":"hello"}`))
	suite.Require().NoError(err)

	suite.worker.Start(suite.ctx)

	status := suite.waitFor(receipt.TaskID, job.StateSuccess)
	suite.Equal(pipeline.UnavailableMessage, status.Result)
}

func (suite *mooliTestSuite) TestIngestMissingDocumentFails() {
	receipt, err := suite.svc.Ingest(suite.ctx, document.Ref{Path: "/nowhere/missing.txt"}, "")
	suite.Require().NoError(err)

	suite.worker.Start(suite.ctx)

	status := suite.waitFor(receipt.TaskID, job.StateFailure)
	suite.Contains(status.Error, document.ErrFetchFailure.Error())

	_, err = suite.svc.Ingest(suite.ctx, document.Ref{}, "")
	suite.ErrorIs(err, ErrInvalidRequest)
}

func (suite *mooliTestSuite) TestIngestOutsideUploadsFails() {
	secret := filepath.Join(suite.T().TempDir(), "secret.txt")
	suite.Require().NoError(os.WriteFile(secret, []byte("db_password=hunter2"), 0o644))

	receipt, err := suite.svc.Ingest(suite.ctx, document.Ref{Path: secret}, "")
	suite.Require().NoError(err)

	suite.worker.Start(suite.ctx)

	status := suite.waitFor(receipt.TaskID, job.StateFailure)
	suite.Contains(status.Error, local.ErrOutsideRoot.Error())

	answer, err := suite.svc.Chat(suite.ctx, "What is the db_password?")
	suite.NoError(err)
	suite.Equal(pipeline.UnavailableMessage, answer)
}

func (suite *mooliTestSuite) TestTaskStatusUnknown() {
	_, err := suite.svc.TaskStatus(suite.ctx, "nope")
	suite.ErrorIs(err, ErrInvalidTaskID)
	suite.ErrorIs(err, job.ErrJobNotFound)

	_, err = suite.svc.TaskStatus(suite.ctx, "")
	suite.ErrorIs(err, ErrInvalidTaskID)
}

func (suite *mooliTestSuite) TestProxyMiddleware() {
	endpoints := MakeEndpoints(suite.svc)
	proxy := ProxyMiddleware(&endpoints)(nil)

	answer, err := proxy.Chat(suite.ctx, "What is Python?")
	suite.Require().NoError(err)
	suite.Equal(pipeline.UnavailableMessage, answer)

	receipt, err := proxy.Upload(suite.ctx, "guide.txt", strings.NewReader(guide))
	suite.Require().NoError(err)

	status, err := proxy.TaskStatus(suite.ctx, receipt.TaskID)
	suite.Require().NoError(err)
	suite.Equal(job.StatePending, status.Status)

	bs, err := json.Marshal(status)
	suite.Require().NoError(err)
	suite.Contains(string(bs), `"status":"pending"`)
}

func TestMooliTestSuite(t *testing.T) {
	suite.Run(t, new(mooliTestSuite))
}
