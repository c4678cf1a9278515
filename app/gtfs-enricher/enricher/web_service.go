package enricher

import (
	"context"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// statusCheck reports nil when a dependency of the service is reachable
type statusCheck func(ctx context.Context) error

//defaultHttpHandler simple default http handler for default route, reports database status
type defaultHttpHandler struct {
	check statusCheck
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second*5)
		defer cancel()
		if err := h.check(ctx); err != nil {
			w.Header().Add("Application-Status", "DB_UNAVAILABLE")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Add("Application-Status", "OK")
}

//createRouter routes health checks and metrics
func createRouter(metrics *metricsCollector, check statusCheck) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{check: check})
	r.Handle("/metrics", metrics.handler())
	return r
}

//createServer creates configured http.Server for health and metrics requests
func createServer(metrics *metricsCollector, check statusCheck, httpPort int) *http.Server {
	srv := &http.Server{
		Addr:         strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      createRouter(metrics, check),
	}
	return srv
}

//runWebService starts up the health and metrics web service, and terminates on shutdown signal
func runWebService(log *logger.Logger,
	wg *sync.WaitGroup,
	metrics *metricsCollector,
	check statusCheck,
	httpPort int,
	shutdownSignal chan bool,
) {
	defer wg.Done()
	srv := createServer(metrics, check, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
