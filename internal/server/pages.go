package server

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/planboo/photoreview/internal/photos"
)

type navParams struct {
	Authenticated bool
	IsAdmin       bool
	Email         string
}

type loginParams struct {
	Nav   navParams
	Email string
	Error string
}

type homeParams struct {
	Nav           navParams
	Authenticated bool
	IsAdmin       bool
	Email         string
	UserID        string
}

type photoView struct {
	Key       string
	Type      photos.PhotoType
	Name      string
	ProjectID string
	Company   string
	FileURL   string
}

type photosParams struct {
	Nav     navParams
	Filters photos.PhotoFilters
	Photos  []photoView
	Error   string
	Notice  string
}

var baseText = `
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{block "title" .}}Photo Review{{end}} - Photo Review</title>
    <style>
      body { margin: 0; font-family: system-ui, sans-serif; background: #f9fafb; color: #111827; }
      nav { display: flex; justify-content: space-between; align-items: center; height: 64px; padding: 0 24px; background: #fff; border-bottom: 1px solid #e5e7eb; }
      nav .brand { font-size: 20px; font-weight: 700; color: #111827; text-decoration: none; }
      nav .links { display: flex; gap: 16px; align-items: center; font-size: 14px; }
      nav form { margin: 0; }
      main { max-width: 1200px; margin: 0 auto; padding: 24px; }
      .error { color: #dc2626; font-size: 12px; }
      .notice { color: #15803d; font-size: 14px; }
      .card { background: #fff; border-radius: 8px; padding: 24px; box-shadow: 0 1px 2px rgba(0,0,0,.05); }
    </style>
    {{block "head" .}}{{end}}
  </head>
  <body>
    <nav>
      <a class="brand" href="/">Photo Review</a>
      <div class="links">
        {{if .Nav.Authenticated}}
          {{if .Nav.IsAdmin}}<a href="/photos">Photo Review</a>{{else}}<a href="/home">Home</a>{{end}}
          <span>{{.Nav.Email}}</span>
          <form method="post" action="/logout"><button type="submit">Logout</button></form>
        {{else}}
          <a href="/login">Login</a>
        {{end}}
      </div>
    </nav>

    <main>
      {{block "content" .}}{{end}}
    </main>

    {{block "scripts" .}}{{end}}
  </body>
</html>
`

var loginText = `{{define "title"}}Sign in{{end}}

{{define "content"}}
<div class="card" style="max-width: 400px; margin: 48px auto;">
  <h1>Sign in</h1>
  <form method="post" action="/login" style="display: grid; gap: 12px;">
    <label style="display: grid; gap: 6px;">
      Email
      <input type="email" name="email" value="{{.Email}}" placeholder="you@company.com" autocomplete="email">
    </label>
    <label style="display: grid; gap: 6px;">
      Password
      <input type="password" name="password" autocomplete="current-password">
    </label>
    {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
    <button type="submit">Sign in</button>
  </form>
</div>
{{end}}
`

var homeText = `{{define "title"}}Home{{end}}

{{define "content"}}
<div style="text-align: center;">
  <h1>Welcome to Photo Review System</h1>
  {{if .Authenticated}}
  <p>Hello, {{.Email}}!</p>
  <div class="card" style="max-width: 640px; margin: 0 auto; text-align: left;">
    <h3>You are signed in</h3>
    <dl>
      <dt>Email:</dt><dd>{{.Email}}</dd>
      <dt>User ID:</dt><dd>{{.UserID}}</dd>
      <dt>Admin Access:</dt><dd>{{if .IsAdmin}}Yes{{else}}No{{end}}</dd>
      <dt>Status:</dt><dd>Authenticated</dd>
    </dl>
    {{if .IsAdmin}}
    <h4>Admin Access Granted</h4>
    <p>You have full access to the Photo Review system.</p>
    <a href="/photos">Go to Photo Review</a>
    {{else}}
    <h4>Limited Access</h4>
    <p>You are signed in but do not have access to Photo Review features.</p>
    <p>Contact your administrator to request access.</p>
    {{end}}
  </div>
  {{else}}
  <p>Please sign in to access the system</p>
  <div class="card" style="max-width: 400px; margin: 0 auto;">
    <h3>Sign In Required</h3>
    <p>Please sign in to access the Photo Review system.</p>
    <a href="/login">Sign In</a>
  </div>
  {{end}}
</div>
{{end}}
`

var photosText = `{{define "title"}}Photo Review{{end}}

{{define "content"}}
<h1>Photo Review</h1>

<form method="get" action="/photos" style="display: flex; gap: 8px; flex-wrap: wrap; margin-bottom: 16px;">
  <input name="projectId" value="{{.Filters.ProjectID}}" placeholder="Project">
  <input name="company" value="{{.Filters.Company}}" placeholder="Company">
  <select name="type">
    <option value="">All types</option>
    <option value="cook">cook</option>
    <option value="mixture">mixture</option>
    <option value="field">field</option>
  </select>
  <input type="date" name="dateFrom" value="{{.Filters.DateFrom}}">
  <input type="date" name="dateTo" value="{{.Filters.DateTo}}">
  <button type="submit">Filter</button>
</form>

{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
{{if .Notice}}<div class="notice">{{.Notice}}</div>{{end}}
<div id="realtime-notice" class="notice" hidden>Photos changed. <a href="">Reload</a></div>

<form method="post" action="/photos/comment">
  <div style="display: flex; gap: 8px; margin-bottom: 16px;">
    <input name="comment" placeholder="Set comment for selected items" style="flex: 1;">
    <button type="submit">Apply Comment</button>
  </div>
  <div style="display: grid; grid-template-columns: repeat(auto-fill, minmax(180px, 1fr)); gap: 12px;">
    {{range .Photos}}
    <label class="card" style="padding: 8px; display: grid; gap: 8px;">
      <input type="checkbox" name="item" value="{{.Key}}">
      <div style="background: #f3f4f6; height: 120px; border-radius: 8px; overflow: hidden; display: grid; place-items: center;">
        {{if .FileURL}}<img src="{{.FileURL}}" alt="{{if .Name}}{{.Name}}{{else}}photo{{end}}" style="width: 100%; height: 100%; object-fit: cover;">{{else}}<span style="font-size: 12px; color: #6b7280;">No preview</span>{{end}}
      </div>
      <div style="font-size: 12px;">
        <div>{{.Type}} &bull; {{if .Name}}{{.Name}}{{else}}&mdash;{{end}}</div>
        <div style="color: #6b7280;">{{.ProjectID}}</div>
      </div>
    </label>
    {{else}}
    <p>No photos found.</p>
    {{end}}
  </div>
</form>
{{end}}

{{define "scripts"}}
<script>
  (function () {
    if (!window.EventSource) return;
    var source = new EventSource("/photos/events");
    source.addEventListener("change", function () {
      document.getElementById("realtime-notice").hidden = false;
    });
  })();
</script>
{{end}}
`

func pageTemplate(text string) *template.Template {
	return template.Must(template.Must(template.New("base").Parse(baseText)).Parse(text))
}

var (
	loginTemplate  = pageTemplate(loginText)
	homeTemplate   = pageTemplate(homeText)
	photosTemplate = pageTemplate(photosText)
)

// render executes tmpl into a buffer so a template error never sends a
// half-written page.
func (s *Server) render(c *gin.Context, status int, tmpl *template.Template, params any) {
	var content bytes.Buffer
	if err := tmpl.Execute(&content, params); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render page")
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	c.Data(status, "text/html; charset=utf-8", content.Bytes())
}
