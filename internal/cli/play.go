package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"live-leaderboard-service/internal/client"
	"live-leaderboard-service/internal/domain"
)

type playOptions struct {
	server        string
	evaluationID  string
	participantID string
	name          string
	interval      time.Duration
	accuracy      float64
	poll          time.Duration
}

// NewPlayCmd runs a simulated participant against a running server.
func NewPlayCmd() *cobra.Command {
	opts := playOptions{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Answer an evaluation as a simulated participant and follow the leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.participantID == "" {
				opts.participantID = "player-" + uuid.NewString()[:8]
			}
			if opts.name == "" {
				opts.name = opts.participantID
			}
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return play(ctx, opts, logger)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "leaderboard server base URL")
	cmd.Flags().StringVar(&opts.evaluationID, "evaluation", "eval-1", "evaluation to join")
	cmd.Flags().StringVar(&opts.participantID, "participant", "", "participant ID (random when empty)")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name (defaults to the participant ID)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 2*time.Second, "pause before each answer")
	cmd.Flags().Float64Var(&opts.accuracy, "accuracy", 0.7, "probability of answering correctly")
	cmd.Flags().DurationVar(&opts.poll, "poll", 3*time.Second, "snapshot poll interval")
	return cmd
}

func play(ctx context.Context, opts playOptions, logger *zap.Logger) error {
	eval, err := fetchEvaluation(ctx, opts.server, opts.evaluationID)
	if err != nil {
		return err
	}
	wsURL, err := websocketURL(opts)
	if err != nil {
		return err
	}
	tr, err := client.DialWebSocket(ctx, wsURL, logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	log := logger.With(zap.String("participant_id", opts.participantID))
	redial := func(ctx context.Context) (client.Transport, error) {
		next, err := client.DialWebSocket(ctx, wsURL, logger)
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	c := client.NewClient(client.NewSession(opts.participantID, opts.name), tr,
		client.WithLogger(log),
		client.WithPollInterval(opts.poll),
		client.WithReconnect(redial, time.Second, 30*time.Second),
		client.WithOnUpdate(func(v client.View) { logView(log, v) }))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	if err := c.Start(ctx, eval); err != nil {
		return err
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, q := range eval.Questions {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case <-time.After(opts.interval):
		}
		_, err := c.Answer(ctx, q.ID, pickAnswer(rnd, q, opts.accuracy))
		switch {
		case errors.Is(err, domain.ErrDisconnected):
			log.Warn("answer kept locally until the connection is back", zap.String("question_id", q.ID))
		case err != nil:
			return err
		}
		if _, err := c.Next(ctx); err != nil {
			return err
		}
	}

	v, err := c.Finish(ctx)
	if err != nil {
		return err
	}
	log.Info("evaluation finished",
		zap.Int("score", v.Score),
		zap.Int("accuracy", v.Accuracy),
		zap.Int("rank", v.Leaderboard.UserRank))

	// Keep following the board until interrupted or disconnected.
	select {
	case <-ctx.Done():
		return nil
	case err := <-runErr:
		return err
	}
}

func pickAnswer(rnd *rand.Rand, q domain.Question, accuracy float64) string {
	key := q.AnswerKey()
	if rnd.Float64() < accuracy || len(q.Options) < 2 {
		return key
	}
	for {
		opt := q.Options[rnd.Intn(len(q.Options))]
		if opt.ID != key {
			return opt.ID
		}
	}
}

func logView(logger *zap.Logger, v client.View) {
	top := make([]string, 0, 3)
	for _, e := range v.Leaderboard.Entries {
		if len(top) == cap(top) {
			break
		}
		marker := ""
		if e.IsSelf {
			marker = "*"
		}
		top = append(top, fmt.Sprintf("#%d %s%s (%d)", e.Rank, e.DisplayName, marker, e.Score))
	}
	logger.Info("leaderboard",
		zap.String("state", v.State.String()),
		zap.Int("score", v.Score),
		zap.Int("progress", v.Progress),
		zap.Int("rank", v.Leaderboard.UserRank),
		zap.Uint64("sequence", v.Leaderboard.Sequence),
		zap.Strings("top", top))
}

func fetchEvaluation(ctx context.Context, server, evaluationID string) (domain.Evaluation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/evaluations/"+url.PathEscape(evaluationID), nil)
	if err != nil {
		return domain.Evaluation{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("fetch evaluation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return domain.Evaluation{}, domain.ErrEvaluationNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Evaluation{}, fmt.Errorf("fetch evaluation: %s", resp.Status)
	}
	var eval domain.Evaluation
	if err := json.NewDecoder(resp.Body).Decode(&eval); err != nil {
		return domain.Evaluation{}, fmt.Errorf("decode evaluation: %w", err)
	}
	return eval, nil
}

func websocketURL(opts playOptions) (string, error) {
	u, err := url.Parse(opts.server)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("evaluationId", opts.evaluationID)
	q.Set("participantId", opts.participantID)
	q.Set("name", opts.name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
