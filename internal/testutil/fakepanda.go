// Package testutil provides an in-process fake of the remote encoding
// service for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/pandactl/internal/panda"
)

// Test credentials accepted by the fake.
const (
	AccessKey = "test-access-key"
	SecretKey = "test-secret-key"
	CloudID   = "test-cloud"
	Version   = "v2"
)

// Call records one request received by the fake.
type Call struct {
	Method string
	Path   string
	Form   url.Values
}

// UploadedVideo is a video created through the fake's upload endpoint.
type UploadedVideo struct {
	ID       string
	FileName string
	Size     int64
	Body     []byte
	polls    int
}

// ProgressPlan lists, per poll, the encoding_progress value of every encoding.
// A nil entry is reported as JSON null. The last step repeats forever.
type ProgressPlan [][]any

type failure struct {
	method string
	prefix string
	status int
	times  int
}

// FakePanda is a chi-routed stand-in for the remote encoding service.
type FakePanda struct {
	Server *httptest.Server

	mu          sync.Mutex
	host        string
	calls       []Call
	sessions    map[string]string
	videos      map[string]*UploadedVideo
	videoOrder  []string
	profiles    []map[string]any
	plans       map[string]ProgressPlan
	defaultPlan ProgressPlan
	failures    []*failure
	nextID      int
}

// NewFakePanda starts a fake service that is closed when the test ends.
func NewFakePanda(t testing.TB) *FakePanda {
	t.Helper()

	f := &FakePanda{
		sessions:    make(map[string]string),
		videos:      make(map[string]*UploadedVideo),
		plans:       make(map[string]ProgressPlan),
		defaultPlan: ProgressPlan{{100}},
	}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Use(f.injectFailures)
	r.Route("/"+Version, func(r chi.Router) {
		r.Use(f.verifySignature)
		r.Post("/videos/upload.json", f.createSession)
		r.Get("/videos/{file}", f.getVideo)
		r.Get("/videos/{id}/encodings.json", f.listEncodings)
		r.Get("/profiles.json", f.listProfiles)
		r.Post("/profiles.json", f.createProfile)
		r.Put("/profiles/{file}", f.updateProfile)
	})
	r.Post("/upload/{token}", f.receiveUpload)

	f.Server = httptest.NewUnstartedServer(r)
	f.host = f.Server.Listener.Addr().(*net.TCPAddr).IP.String()
	f.Server.Start()
	t.Cleanup(f.Server.Close)
	return f
}

// Config returns a client configuration pointing at the fake.
func (f *FakePanda) Config() panda.Config {
	u, _ := url.Parse(f.Server.URL)
	port, _ := strconv.Atoi(u.Port())
	return panda.Config{
		Host:      u.Hostname(),
		Port:      port,
		Version:   Version,
		AccessKey: AccessKey,
		SecretKey: SecretKey,
		CloudID:   CloudID,
	}
}

// SetProfiles replaces the remote profile set. Each profile is stored as given.
func (f *FakePanda) SetProfiles(profiles ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = nil
	for _, p := range profiles {
		f.profiles = append(f.profiles, cloneMap(p))
	}
}

// Profiles returns a copy of the current remote profile set.
func (f *FakePanda) Profiles() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, cloneMap(p))
	}
	return out
}

// SetDefaultPlan sets the progress plan used for videos without their own.
func (f *FakePanda) SetDefaultPlan(plan ProgressPlan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultPlan = plan
}

// SetPlan sets the progress plan for the video uploaded from fileName.
func (f *FakePanda) SetPlan(fileName string, plan ProgressPlan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[fileName] = plan
}

// AddVideo registers a video directly, without going through an upload.
func (f *FakePanda) AddVideo(id, fileName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos[id] = &UploadedVideo{ID: id, FileName: fileName}
	f.videoOrder = append(f.videoOrder, id)
}

// FailNext makes the next times requests whose method matches and whose path
// starts with prefix fail with status.
func (f *FakePanda) FailNext(method, prefix string, status, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &failure{method: method, prefix: prefix, status: status, times: times})
}

// Calls returns every recorded request in arrival order.
func (f *FakePanda) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded requests with the given method and path.
func (f *FakePanda) CallsTo(method, path string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Videos returns uploaded videos in upload order.
func (f *FakePanda) Videos() []UploadedVideo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]UploadedVideo, 0, len(f.videoOrder))
	for _, id := range f.videoOrder {
		out = append(out, *f.videos[id])
	}
	return out
}

func (f *FakePanda) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := Call{Method: r.Method, Path: r.URL.Path}
		if !strings.HasPrefix(r.URL.Path, "/upload/") {
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			call.Form = r.Form
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakePanda) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		var status int
		for _, fl := range f.failures {
			if fl.times > 0 && fl.method == r.Method && strings.HasPrefix(r.URL.Path, fl.prefix) {
				fl.times--
				status = fl.status
				break
			}
		}
		f.mu.Unlock()

		if status != 0 {
			if r.Body != nil {
				_, _ = io.Copy(io.Discard, r.Body)
			}
			writeJSON(w, status, map[string]string{"error": "Injected", "message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakePanda) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Form.Get(panda.ParamAccessKey) != AccessKey || r.Form.Get(panda.ParamCloudID) != CloudID {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "NotAuthorized", "message": "bad credentials"})
			return
		}
		signer := panda.NewSigner(AccessKey, SecretKey, CloudID, f.host)
		path := strings.TrimPrefix(r.URL.Path, "/"+Version)
		want := signer.Signature(r.Method, path, r.Form)
		if r.Form.Get(panda.ParamSignature) != want {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "NotAuthorized", "message": "signature mismatch"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakePanda) createSession(w http.ResponseWriter, r *http.Request) {
	name := r.Form.Get("file_name")
	if name == "" || r.Form.Get("file_size") == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "ValidationError", "message": "file_name and file_size are required"})
		return
	}

	f.mu.Lock()
	f.nextID++
	token := fmt.Sprintf("session-%d", f.nextID)
	f.sessions[token] = name
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"location": f.Server.URL + "/upload/" + token})
}

func (f *FakePanda) receiveUpload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
		http.Error(w, "unexpected content type "+ct, http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	name, ok := f.sessions[token]
	if !ok {
		f.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	delete(f.sessions, token)
	f.nextID++
	id := fmt.Sprintf("video%04d", f.nextID)
	f.videos[id] = &UploadedVideo{ID: id, FileName: name, Size: int64(len(body)), Body: body}
	f.videoOrder = append(f.videoOrder, id)
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "processing"})
}

func (f *FakePanda) getVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(chi.URLParam(r, "file"), ".json")
	if !ok {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	v, found := f.videos[id]
	var name string
	if found {
		name = v.FileName
	}
	f.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "RecordNotFound", "message": "video not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "success", "original_filename": name})
}

func (f *FakePanda) listEncodings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f.mu.Lock()
	v, found := f.videos[id]
	if !found {
		f.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "RecordNotFound", "message": "video not found"})
		return
	}
	plan, ok := f.plans[v.FileName]
	if !ok {
		plan = f.defaultPlan
	}
	var step []any
	if len(plan) > 0 {
		idx := v.polls
		if idx >= len(plan) {
			idx = len(plan) - 1
		}
		step = plan[idx]
	}
	v.polls++
	f.mu.Unlock()

	encodings := make([]map[string]any, 0, len(step))
	for i, progress := range step {
		encodings = append(encodings, map[string]any{
			"id":                fmt.Sprintf("%s-enc%d", id, i),
			"video_id":          id,
			"profile_name":      fmt.Sprintf("profile%d", i),
			"encoding_progress": progress,
		})
	}
	writeJSON(w, http.StatusOK, encodings)
}

func (f *FakePanda) listProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, f.Profiles())
}

func (f *FakePanda) createProfile(w http.ResponseWriter, r *http.Request) {
	attrs := formAttrs(r.Form)
	name, _ := attrs["name"].(string)

	f.mu.Lock()
	for _, p := range f.profiles {
		if p["name"] == name {
			f.mu.Unlock()
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "ValidationError", "message": "name already taken"})
			return
		}
	}
	f.nextID++
	attrs["id"] = fmt.Sprintf("profile%04d", f.nextID)
	if _, ok := attrs["preset_name"]; !ok {
		attrs["preset_name"] = "h264"
	}
	f.profiles = append(f.profiles, attrs)
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, attrs)
}

func (f *FakePanda) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(chi.URLParam(r, "file"), ".json")
	if !ok {
		http.NotFound(w, r)
		return
	}
	attrs := formAttrs(r.Form)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if fmt.Sprint(p["id"]) != id {
			continue
		}
		for k, v := range attrs {
			p[k] = v
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "RecordNotFound", "message": "profile not found"})
}

// formAttrs strips authentication parameters from a submitted form.
func formAttrs(form url.Values) map[string]any {
	attrs := make(map[string]any, len(form))
	for k := range form {
		switch k {
		case panda.ParamAccessKey, panda.ParamCloudID, panda.ParamTimestamp, panda.ParamSignature:
			continue
		}
		attrs[k] = form.Get(k)
	}
	return attrs
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// FreePort is a helper for tests that need an address nothing listens on.
func FreePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}
