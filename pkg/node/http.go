package node

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"esfixture/internal/api/elasticsearch"
	"esfixture/internal/api/graphql"
	"esfixture/pkg/settings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	sloghttp "github.com/samber/slog-http"
)

// router leaves the gin mode to the process, set it with gin.SetMode or
// GIN_MODE.
func (n *Node) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if n.settings.Bool(settings.GraphQLEnabled, false) {
		graphql.NewService(n.manager).RegisterHandlers(r)
	}

	r.GET("/_metadata", func(c *gin.Context) {
		metadata := make(map[string]interface{})
		for _, name := range n.manager.ListIndices() {
			if idx := n.manager.GetIndex(name); idx != nil {
				metadata[name] = idx.GetMetadata()
			}
		}
		c.JSON(http.StatusOK, metadata)
	})

	elasticsearch.NewService(n.manager, n.cluster).RegisterHandlers(r)

	return r
}

func (n *Node) listenHTTP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "could not bind http")
	}
	n.cluster.Self.HTTPAddr = ln.Addr().String()

	n.http = &http.Server{
		Handler:           accessLog(n.logger)(n.router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := n.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("http server stopped", slog.Any("error", err))
		}
	}()

	return nil
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return sloghttp.NewWithConfig(logger, sloghttp.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelInfo,
		ServerErrorLevel: slog.LevelError,
	})
}
