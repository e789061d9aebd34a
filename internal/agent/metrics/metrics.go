package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"webtriage/pkg/model"
)

// Recorder 作为输出端接入，对每条交易记录计数。
type Recorder struct {
	transactions  *prometheus.CounterVec
	unanswered    prometheus.Counter
	uploads       prometheus.Counter
	responseBytes prometheus.Counter
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webtriage",
			Name:      "transactions_total",
			Help:      "Decoded HTTP transactions by content classification.",
		}, []string{"classification"}),
		unanswered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "webtriage",
			Name:      "unanswered_requests_total",
			Help:      "HTTP requests emitted without a captured response.",
		}),
		uploads: f.NewCounter(prometheus.CounterOpts{
			Namespace: "webtriage",
			Name:      "upload_artifacts_total",
			Help:      "Files recovered from POST bodies.",
		}),
		responseBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "webtriage",
			Name:      "response_bytes_total",
			Help:      "Null-stripped response body bytes.",
		}),
	}
}

func (r *Recorder) Alert(ctx context.Context, tx *model.Transaction) error {
	label := tx.Classification
	if label == "" {
		label = model.LabelDefault
	}
	r.transactions.WithLabelValues(string(label)).Inc()
	if tx.ResponseInfo == "" {
		r.unanswered.Inc()
	}
	if tx.UploadFile != nil {
		r.uploads.Inc()
	}
	r.responseBytes.Add(float64(tx.ResponseSize))
	return nil
}

// Serve 在 addr 上暴露 /metrics，ctx 结束时关闭。
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics 监听", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics 服务异常退出", zap.Error(err))
	}
}
