package docs

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/config"
	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/internal/upstream"
)

// renderChunkSize is how much of the rendered file goes into one response
// chunk.
const renderChunkSize = 1024 * 1024

// Semilimes renders documents through the company's hosted PDF generator.
type Semilimes struct {
	*gateway.BaseProvider
	cfg    *config.Config
	client *upstream.Client
}

// NewSemilimes builds the provider.
func NewSemilimes(cfg *config.Config, client *upstream.Client, log *zap.Logger) *Semilimes {
	p := &Semilimes{
		BaseProvider: gateway.NewBaseProvider("semilimes", "Semilimes", log),
		cfg:          cfg,
		client:       client,
	}
	p.Handle("html_to_pdf", p.htmlToPDF)
	return p
}

func (p *Semilimes) htmlToPDF(ctx context.Context, args interface{}) (interface{}, error) {
	if err := p.RequireConfig("DOCS_API_URL", p.cfg.DocsAPIURL); err != nil {
		return nil, err
	}

	body, resp, err := p.client.Stream(ctx, upstream.RequestSpec{
		Method: http.MethodPost,
		URL:    upstream.JoinURL(p.cfg.DocsAPIURL, "htmltopdf") + "/",
		JSON:   args,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(body)
		body.Close()
		p.Log().Error("Docs API error", zap.Int("status", resp.StatusCode))
		p.Log().Debug("Docs API error body", zap.ByteString("body", raw))
		return nil, gateway.NewProviderError(
			fmt.Sprintf("Error rendering your document (%d)", resp.StatusCode))
	}

	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		defer body.Close()
		for {
			buf := make([]byte, renderChunkSize)
			n, readErr := body.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()
	return &Stream{
		ContentType: resp.Header.Get("Content-Type"),
		Chunks:      chunks,
	}, nil
}
