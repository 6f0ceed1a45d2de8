package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/kartoza/kickstarter-guide/internal/api"
	"github.com/kartoza/kickstarter-guide/internal/predict"
)

//go:embed templates/*.html
var templateFS embed.FS

const maxFormBytes = 1 << 20

// pageData is the template context shared by all pages
type pageData struct {
	Title       string
	Description string
	Active      string
	Version     string

	// Prediction form echo
	Blurb       string
	Backers     string
	Goal        string
	BackersLine string
	GoalLine    string
	Prediction  string
	Label       string

	Errors map[string]string
	Error  string
}

type pages struct {
	templates map[string]*template.Template
}

func newPages() (*pages, error) {
	p := &pages{templates: make(map[string]*template.Template)}
	for _, name := range []string{"index.html", "about.html", "prediction.html", "notfound.html"} {
		t, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		p.templates[name] = t
	}
	return p, nil
}

// render executes into a buffer first so a template error never sends a partial page
func (p *pages) render(w http.ResponseWriter, status int, name string, data pageData) error {
	t, ok := p.templates[name]
	if !ok {
		return fmt.Errorf("unknown template %s", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func (s *Server) newPageData(active string) pageData {
	return pageData{
		Title:       api.Title,
		Description: api.Description,
		Active:      active,
		Version:     s.cfg.Version,
	}
}

func (s *Server) renderPage(w http.ResponseWriter, status int, name string, data pageData) {
	if err := s.pages.render(w, status, name, data); err != nil {
		s.log.Error("rendering template", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleHome renders the landing page
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, "index.html", s.newPageData("home"))
}

// handleAbout renders the about page
func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, "about.html", s.newPageData("about"))
}

// handlePredictionForm renders the empty prediction form
func (s *Server) handlePredictionForm(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, "prediction.html", s.newPageData("prediction"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusNotFound, "notfound.html", s.newPageData(""))
}

// handlePrediction reads the form, runs the model and renders the verdict
func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	data := s.newPageData("prediction")

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := parseForm(r); err != nil {
		data.Error = "The form could not be read."
		s.renderPage(w, http.StatusBadRequest, "prediction.html", data)
		return
	}

	data.Blurb = r.PostForm.Get("blurb")
	data.Backers = r.PostForm.Get("backers")
	data.Goal = r.PostForm.Get("goal")

	req, verr := parsePredictionForm(r)
	if verr != nil {
		data.Errors = verr.Fields
		s.renderPage(w, http.StatusUnprocessableEntity, "prediction.html", data)
		return
	}

	if s.predictor == nil {
		data.Error = "The model is not loaded."
		s.renderPage(w, http.StatusServiceUnavailable, "prediction.html", data)
		return
	}

	res, err := s.predictor.Predict(r.Context(), req)
	if err != nil {
		var ve *predict.ValidationError
		if errors.As(err, &ve) {
			data.Errors = ve.Fields
			s.renderPage(w, http.StatusUnprocessableEntity, "prediction.html", data)
			return
		}
		s.log.Error("prediction failed", "request_id", requestIDFrom(r.Context()), "error", err)
		data.Error = "Sorry, the model could not produce a prediction for this campaign."
		s.renderPage(w, http.StatusInternalServerError, "prediction.html", data)
		return
	}

	data.Blurb = req.Blurb
	data.BackersLine = fmt.Sprintf("Number of backers: %d", req.Backers)
	data.GoalLine = fmt.Sprintf("Monetary goal: %s", req.Goal.String())
	data.Prediction = res.Message
	data.Label = string(res.Label)
	s.renderPage(w, http.StatusOK, "prediction.html", data)
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(maxFormBytes)
	}
	return r.ParseForm()
}

// parsePredictionForm checks presence, syntax and range of the three fields
func parsePredictionForm(r *http.Request) (predict.Request, *predict.ValidationError) {
	verr := &predict.ValidationError{}
	var req predict.Request

	for _, field := range []string{"blurb", "backers", "goal"} {
		if _, ok := r.PostForm[field]; !ok {
			verr.Add(field, "field required")
		}
	}

	req.Blurb = strings.TrimSpace(r.PostForm.Get("blurb"))
	if _, ok := r.PostForm["blurb"]; ok && req.Blurb == "" {
		verr.Add("blurb", "field required")
	}

	if raw, ok := r.PostForm["backers"]; ok {
		n, err := strconv.ParseInt(strings.TrimSpace(raw[0]), 10, 64)
		if err != nil {
			verr.Add("backers", "value is not a valid integer")
		}
		req.Backers = n
	}

	if raw, ok := r.PostForm["goal"]; ok {
		d, err := predict.ParseGoal(raw[0])
		if err != nil {
			verr.Add("goal", "value is not a valid number")
		}
		req.Goal = d
	}

	if len(verr.Fields) > 0 {
		return predict.Request{}, verr
	}

	// range checks run here too so nothing unbounded reaches the predictor
	if err := req.Validate(); err != nil {
		if errors.As(err, &verr) {
			return predict.Request{}, verr
		}
		verr.Add("form", err.Error())
		return predict.Request{}, verr
	}
	return req, nil
}
