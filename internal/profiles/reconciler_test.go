package profiles

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/pandactl/internal/apperr"
	"github.com/jmylchreest/pandactl/internal/observability"
	"github.com/jmylchreest/pandactl/internal/panda"
	"github.com/jmylchreest/pandactl/internal/testutil"
	"github.com/jmylchreest/pandactl/pkg/httpclient"
)

type write struct {
	kind  ActionKind
	id    string
	attrs map[string]any
}

type fakeAPI struct {
	remote    []map[string]any
	listErr   error
	failOn    string
	writes    []write
	listCalls int
}

func (f *fakeAPI) ListProfiles(context.Context) ([]map[string]any, error) {
	f.listCalls++
	return f.remote, f.listErr
}

func (f *fakeAPI) UpdateProfile(_ context.Context, id string, attrs map[string]any) error {
	if panda.StringValue(attrs["name"]) == f.failOn {
		return errors.New("rejected")
	}
	f.writes = append(f.writes, write{ActionUpdate, id, attrs})
	return nil
}

func (f *fakeAPI) CreateProfile(_ context.Context, attrs map[string]any) error {
	if panda.StringValue(attrs["name"]) == f.failOn {
		return errors.New("rejected")
	}
	f.writes = append(f.writes, write{ActionCreate, "", attrs})
	return nil
}

func newReconciler(api API, opts Options) *Reconciler {
	return NewReconciler(api, opts).WithLogger(observability.Discard())
}

func TestReconciler_EmptyDesiredSet(t *testing.T) {
	api := &fakeAPI{remote: []map[string]any{{"id": "p1", "name": "h264"}}}

	report, err := newReconciler(api, Options{}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, api.writes)
	assert.Empty(t, report.Applied)
}

func TestReconciler_AppliesPlanInOrder(t *testing.T) {
	api := &fakeAPI{remote: []map[string]any{
		{"id": "p1", "name": "h264", "preset_name": "h264", "width": "640"},
	}}
	desired := map[string]Profile{
		"h264": {"name": "h264", "width": "1280"},
		"ogg":  {"name": "ogg"},
	}

	var seen []string
	report, err := newReconciler(api, Options{}).
		WithObserver(ObserverFunc(func(a Action, dryRun bool) {
			assert.False(t, dryRun)
			seen = append(seen, a.String())
		})).
		Run(context.Background(), desired)
	require.NoError(t, err)

	want := []write{
		{ActionUpdate, "p1", map[string]any{"name": "h264", "width": "1280"}},
		{ActionCreate, "", map[string]any{"name": "ogg"}},
	}
	if diff := cmp.Diff(want, api.writes, cmp.AllowUnexported(write{})); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{`update "h264" (p1)`, `create "ogg"`}, seen)
	assert.Equal(t, 1, report.Updated())
	assert.Equal(t, 1, report.Created())
}

func TestReconciler_DryRun(t *testing.T) {
	api := &fakeAPI{remote: []map[string]any{{"id": "p1", "name": "h264"}}}
	desired := map[string]Profile{"h264": {"name": "h264"}, "ogg": {"name": "ogg"}}

	var dry []bool
	report, err := newReconciler(api, Options{DryRun: true}).
		WithObserver(ObserverFunc(func(_ Action, dryRun bool) { dry = append(dry, dryRun) })).
		Run(context.Background(), desired)
	require.NoError(t, err)

	assert.Empty(t, api.writes)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Planned, 2)
	assert.Equal(t, []bool{true, true}, dry)
}

func TestReconciler_FetchFailure(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("unreachable")}

	_, err := newReconciler(api, Options{}).Run(context.Background(), map[string]Profile{"a": {"name": "a"}})
	require.ErrorIs(t, err, apperr.ErrService)
	assert.Contains(t, err.Error(), "fetching profiles")
}

func TestReconciler_StopsOnFirstFailure(t *testing.T) {
	api := &fakeAPI{failOn: "b"}
	desired := map[string]Profile{
		"a": {"name": "a"},
		"b": {"name": "b"},
		"c": {"name": "c"},
	}

	report, err := newReconciler(api, Options{}).Run(context.Background(), desired)
	require.ErrorIs(t, err, apperr.ErrService)

	var svcErr *apperr.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "b", svcErr.Profile)
	assert.Equal(t, `creating profile "b": rejected`, err.Error())

	require.Len(t, report.Applied, 1)
	assert.Equal(t, "a", report.Applied[0].Name)
	assert.Len(t, api.writes, 1)
}

func serviceClient(t *testing.T, fake *testutil.FakePanda) *panda.Client {
	t.Helper()
	hc := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, Logger: observability.Discard()})
	c, err := panda.New(fake.Config(), panda.WithHTTPClient(hc), panda.WithLogger(observability.Discard()))
	require.NoError(t, err)
	return c
}

func putForms(fake *testutil.FakePanda) map[string]url.Values {
	out := make(map[string]url.Values)
	for _, c := range fake.Calls() {
		if c.Method != http.MethodPut {
			continue
		}
		form := url.Values{}
		for k, v := range c.Form {
			switch k {
			case panda.ParamAccessKey, panda.ParamCloudID, panda.ParamTimestamp, panda.ParamSignature:
				continue
			}
			form[k] = v
		}
		out[c.Path] = form
	}
	return out
}

func TestReconciler_IdempotentAgainstService(t *testing.T) {
	fake := testutil.NewFakePanda(t)
	fake.SetProfiles(
		map[string]any{"id": "p1", "name": "h264", "preset_name": "h264", "width": 640, "extname": ".mp4"},
		map[string]any{"id": "p2", "name": "untouched", "preset_name": "ogg"},
	)
	desired, err := Load(strings.NewReader("[h264]\nwidth = 1280\n\n[ogg]\nextname = .ogv\n"))
	require.NoError(t, err)

	client := serviceClient(t, fake)

	first, err := newReconciler(client, Options{}).Run(context.Background(), desired)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated())
	assert.Equal(t, 1, first.Created())
	firstPuts := putForms(fake)

	second, err := newReconciler(client, Options{}).Run(context.Background(), desired)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Updated())
	assert.Zero(t, second.Created())

	secondPuts := putForms(fake)
	path := "/" + testutil.Version + "/profiles/p1.json"
	if diff := cmp.Diff(firstPuts[path], secondPuts[path]); diff != "" {
		t.Errorf("update payload changed between runs (-first +second):\n%s", diff)
	}
	assert.Equal(t, "1280", secondPuts[path].Get("width"))
	assert.Len(t, fake.CallsTo(http.MethodPost, "/"+testutil.Version+"/profiles.json"), 1)

	names := map[string]bool{}
	for _, p := range fake.Profiles() {
		names[panda.StringValue(p["name"])] = true
	}
	assert.Equal(t, map[string]bool{"h264": true, "ogg": true, "untouched": true}, names)
}

func TestReconciler_SkipUnchangedSecondRun(t *testing.T) {
	fake := testutil.NewFakePanda(t)
	fake.SetProfiles(map[string]any{"id": "p1", "name": "h264", "preset_name": "h264", "width": 640})
	desired := map[string]Profile{"h264": {"name": "h264", "width": "1280"}}
	client := serviceClient(t, fake)

	_, err := newReconciler(client, Options{SkipUnchanged: true}).Run(context.Background(), desired)
	require.NoError(t, err)
	report, err := newReconciler(client, Options{SkipUnchanged: true}).Run(context.Background(), desired)
	require.NoError(t, err)

	assert.Empty(t, report.Applied)
	assert.Len(t, fake.CallsTo(http.MethodPut, "/"+testutil.Version+"/profiles/p1.json"), 1)
}
