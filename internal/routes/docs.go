package routes

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/xAleksandar/tonight-app-sub003/internal/config"
)

const docsIndexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{ .Title }}</title>
  <style>
    :root {
      color-scheme: light;
      --bg: #f6f5f8;
      --text: #1c1326;
      --muted: #5d5368;
      --accent: #5b2d86;
      --border: #dcd6e2;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: Georgia, "Times New Roman", serif;
      color: var(--text);
      background: linear-gradient(180deg, #fcfbfd 0%, var(--bg) 100%);
    }
    main {
      max-width: 900px;
      margin: 0 auto;
      padding: 48px 20px 64px;
    }
    .hero {
      background: rgba(255, 255, 255, 0.92);
      border: 1px solid var(--border);
      border-radius: 18px;
      padding: 28px;
      margin-bottom: 20px;
      box-shadow: 0 20px 60px rgba(28, 19, 38, 0.08);
    }
    .hero h1 { margin: 0 0 12px; font-size: clamp(2rem, 5vw, 3rem); }
    .hero p { margin: 0; color: var(--muted); line-height: 1.6; }
    .button {
      display: inline-flex;
      margin-top: 20px;
      padding: 11px 16px;
      border-radius: 999px;
      border: 1px solid var(--accent);
      color: #fff;
      background: var(--accent);
      text-decoration: none;
      font-weight: 600;
    }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 10px 12px; border-bottom: 1px solid var(--border); }
    th { color: var(--muted); font-weight: 600; }
    code { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 0.9rem; }
    .panel {
      background: rgba(255, 255, 255, 0.92);
      border: 1px solid var(--border);
      border-radius: 18px;
      padding: 22px;
    }
    .meta { margin-top: 16px; color: var(--muted); font-size: 0.85rem; }
  </style>
</head>
<body>
  <main>
    <div class="hero">
      <h1>{{ .Title }}</h1>
      <p>Private messaging between an event host and an accepted participant: conversation access,
         ordered transcripts, read receipts, send-path rate limiting, and a WebSocket room per
         conversation for live message, receipt, typing, and status events.</p>
      <a class="button" href="/docs/openapi.yaml">OpenAPI spec</a>
    </div>
    <div class="panel">
      <table>
        <tr><th>Method</th><th>Path</th><th>Purpose</th></tr>
        <tr><td>GET</td><td><code>/api/v1/chats</code></td><td>Accepted conversations with last message and unread count</td></tr>
        <tr><td>POST</td><td><code>/api/v1/chats/announcements</code></td><td>Fan a message out to hosted conversations</td></tr>
        <tr><td>GET</td><td><code>/api/v1/chats/{id}/messages</code></td><td>Ordered transcript with read receipts</td></tr>
        <tr><td>POST</td><td><code>/api/v1/chats/{id}/messages</code></td><td>Send a message (rate limited)</td></tr>
        <tr><td>POST</td><td><code>/api/v1/chats/{id}/read</code></td><td>Mark unread messages as read</td></tr>
        <tr><td>POST</td><td><code>/api/v1/chats/{id}/status-events</code></td><td>Announce the join-request status to the participant</td></tr>
        <tr><td>GET</td><td><code>/ws</code></td><td>WebSocket upgrade; join rooms, receive live events</td></tr>
      </table>
      <p class="meta">Loaded {{ .LoadedAt }}. All chat endpoints require a Bearer token.</p>
    </div>
  </main>
</body>
</html>
`

type docsPageData struct {
	Title    string
	LoadedAt string
}

func registerDocsRoutes(app fiber.Router, cfg *config.Config) error {
	if !cfg.DocsEnabled() {
		return nil
	}

	spec, err := loadOpenAPISpec()
	if err != nil {
		return fmt.Errorf("load openapi spec: %w", err)
	}

	indexTemplate, err := template.New("docs-index").Parse(docsIndexHTML)
	if err != nil {
		return fmt.Errorf("parse docs template: %w", err)
	}

	pageData := docsPageData{
		Title:    "Tonight Chat API Docs",
		LoadedAt: time.Now().UTC().Format(time.RFC3339),
	}

	indexHandler := func(c *fiber.Ctx) error {
		applyDocsBaseHeaders(c, fiber.MIMETextHTMLCharsetUTF8)
		c.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; img-src 'self' data:; base-uri 'none'; form-action 'none'; frame-ancestors 'none'")

		var body bytes.Buffer
		if err := indexTemplate.Execute(&body, pageData); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to render api docs")
		}

		return c.Status(fiber.StatusOK).Send(body.Bytes())
	}

	app.Get("/docs", indexHandler)
	app.Get("/docs/", indexHandler)
	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		applyDocsBaseHeaders(c, "application/yaml; charset=utf-8")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		c.Set(fiber.HeaderContentDisposition, `inline; filename="openapi.yaml"`)
		return c.Status(fiber.StatusOK).Send(spec)
	})

	return nil
}

func loadOpenAPISpec() ([]byte, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return nil, fmt.Errorf("resolve source path")
	}

	specPath := filepath.Join(filepath.Dir(currentFile), "..", "..", "docs", "openapi.yaml")
	spec, err := os.ReadFile(specPath)
	if err != nil {
		return nil, err
	}

	return spec, nil
}

func applyDocsBaseHeaders(c *fiber.Ctx, contentType string) {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "no-store, max-age=0")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	c.Set(fiber.HeaderXFrameOptions, "DENY")
	c.Set("Referrer-Policy", "no-referrer")
	c.Set("X-Robots-Tag", "noindex, nofollow")
}
