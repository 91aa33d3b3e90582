package extractor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// fakeBrowser serves a fixed DOM and script result.
type fakeBrowser struct {
	dom       string
	domErr    error
	result    []byte
	scriptErr error
	scripts   []string
}

func (f *fakeBrowser) Get(context.Context, string) error { return nil }
func (f *fakeBrowser) WaitCSS(context.Context, string, bool, time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeBrowser) WaitXPath(context.Context, string, bool, time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeBrowser) ExecuteScript(_ context.Context, script string, _ bool) ([]byte, error) {
	f.scripts = append(f.scripts, script)
	return f.result, f.scriptErr
}
func (f *fakeBrowser) DOM(context.Context) (string, error)              { return f.dom, f.domErr }
func (f *fakeBrowser) Cookies(context.Context) ([]*http.Cookie, error) { return nil, nil }
func (f *fakeBrowser) UserAgent(context.Context) (string, error)       { return "test", nil }
func (f *fakeBrowser) Close() error                                    { return nil }

func page(b crawler.Browser) crawler.PageHandle {
	return crawler.PageHandle{Index: 1, URL: "https://shop.example.com/catalog/page/1", Ready: true, Browser: b}
}

func names(rec crawler.RawRecord) []string {
	out := make([]string, 0, len(rec))
	for _, f := range rec {
		out = append(out, f.Name)
	}
	return out
}

func TestScriptExtractorResultShapes(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   []crawler.RawRecord
	}{
		{
			name:   "Object",
			result: `{"title":"Kettle","price":"12.50","image":"https://x/a.jpg"}`,
			want: []crawler.RawRecord{{
				{Name: "title", Value: crawler.String("Kettle")},
				{Name: "price", Value: crawler.String("12.50")},
				{Name: "image", Value: crawler.String("https://x/a.jpg")},
			}},
		},
		{
			name:   "ArrayMixed",
			result: `[{"a":"1"},"loose",null,{"b":2}]`,
			want: []crawler.RawRecord{
				{{Name: "a", Value: crawler.String("1")}},
				{{Name: "value", Value: crawler.String("loose")}},
				{{Name: "b", Value: crawler.Number("2")}},
			},
		},
		{
			name:   "Scalar",
			result: `42`,
			want:   []crawler.RawRecord{{{Name: "value", Value: crawler.Number("42")}}},
		},
		{
			name:   "Null",
			result: `null`,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBrowser{result: []byte(tt.result)}
			e, err := NewScript(crawler.ExtractorPolicy{Script: "return window.items;"}, nil)
			require.NoError(t, err)

			got, err := e.Extract(context.Background(), page(b))

			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, []string{"return window.items;"}, b.scripts)
		})
	}
}

func TestScriptExtractorFailures(t *testing.T) {
	e, err := NewScript(crawler.ExtractorPolicy{Script: "throw new Error('boom')"}, nil)
	require.NoError(t, err)

	records, err := e.Extract(context.Background(), page(&fakeBrowser{scriptErr: errors.New("Error: boom")}))
	assert.Empty(t, records)
	assert.ErrorIs(t, err, crawler.ErrExtraction)
	assert.False(t, crawler.IsFatal(err))

	records, err = e.Extract(context.Background(), page(&fakeBrowser{result: []byte(`{"a":`)}))
	assert.Empty(t, records)
	assert.ErrorIs(t, err, crawler.ErrExtraction)

	fatal := &crawler.SessionError{Op: "evaluate", Err: errors.New("target closed")}
	_, err = e.Extract(context.Background(), page(&fakeBrowser{scriptErr: fatal}))
	assert.True(t, crawler.IsFatal(err))
	assert.NotErrorIs(t, err, crawler.ErrExtraction)

	_, err = NewScript(crawler.ExtractorPolicy{Script: "   "}, nil)
	assert.Error(t, err)
}

const catalogHTML = `<html><body>
<div class="product">
  <h2 class="title">  Steel
     Kettle </h2>
  <img src="/img/kettle.jpg">
  <a class="manual" href="manuals/kettle.pdf">Manual</a>
  <span class="tag">kitchen</span><span class="tag">steel</span>
</div>
<div class="product">
  <h2 class="title">Toaster</h2>
  <img srcset="/img/toaster-1x.png 1x, /img/toaster-2x.png 2x">
</div>
</body></html>`

func TestDOMExtractorRecordScopes(t *testing.T) {
	e, err := NewDOM(crawler.ExtractorPolicy{
		RecordSelector: ".product",
		Fields: []crawler.FieldSelector{
			{Name: "title", Selector: "h2.title"},
			{Name: "image", Selector: "img::attr(src)"},
			{Name: "hires", Selector: "img::attr(srcset)"},
			{Name: "manual", Selector: "a.manual::attr(href)"},
			{Name: "tags", Selector: ".tag::text"},
		},
	}, nil)
	require.NoError(t, err)

	got, err := e.Extract(context.Background(), page(&fakeBrowser{dom: catalogHTML}))
	require.NoError(t, err)

	want := []crawler.RawRecord{
		{
			{Name: "title", Value: crawler.String("Steel Kettle")},
			{Name: "image", Value: crawler.String("https://shop.example.com/img/kettle.jpg")},
			{Name: "manual", Value: crawler.String("https://shop.example.com/catalog/page/manuals/kettle.pdf")},
			{Name: "tags", Value: crawler.List(crawler.String("kitchen"), crawler.String("steel"))},
		},
		{
			{Name: "title", Value: crawler.String("Toaster")},
			{Name: "hires", Value: crawler.String("https://shop.example.com/img/toaster-1x.png")},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestDOMExtractorWholeDocument(t *testing.T) {
	e, err := NewDOM(crawler.ExtractorPolicy{
		Fields: []crawler.FieldSelector{
			{Name: "titles", Selector: "h2.title"},
			{Name: "missing", Selector: ".nope"},
		},
	}, nil)
	require.NoError(t, err)

	got, err := e.ExtractHTML(catalogHTML, "https://shop.example.com/")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"titles"}, names(got[0]))
	v, ok := got[0].Get("titles")
	require.True(t, ok)
	assert.Equal(t, crawler.RawList, v.Kind)
	assert.Len(t, v.Items, 2)

	none, err := e.ExtractHTML("<html><body><p>empty</p></body></html>", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDOMExtractorXPath(t *testing.T) {
	e, err := NewDOM(crawler.ExtractorPolicy{
		RecordSelector: "xpath://div[@class='product']",
		Fields: []crawler.FieldSelector{
			{Name: "title", Selector: "xpath:.//h2"},
			{Name: "image", Selector: "xpath:.//img/@src"},
		},
	}, nil)
	require.NoError(t, err)

	got, err := e.ExtractHTML(catalogHTML, "https://shop.example.com/catalog/")
	require.NoError(t, err)
	require.Len(t, got, 2)

	title, _ := got[0].Get("title")
	assert.Equal(t, "Steel Kettle", title.Text)
	image, _ := got[0].Get("image")
	assert.Equal(t, "https://shop.example.com/img/kettle.jpg", image.Text)
	assert.Equal(t, []string{"title"}, names(got[1]))
}

func TestDOMExtractorErrors(t *testing.T) {
	e, err := NewDOM(crawler.ExtractorPolicy{Fields: []crawler.FieldSelector{{Name: "t", Selector: "h2"}}}, nil)
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), page(&fakeBrowser{domErr: errors.New("node detached")}))
	assert.ErrorIs(t, err, crawler.ErrExtraction)

	_, err = e.Extract(context.Background(), page(&fakeBrowser{domErr: &crawler.SessionError{Op: "dom", Err: errors.New("gone")}}))
	assert.True(t, crawler.IsFatal(err))

	_, err = NewDOM(crawler.ExtractorPolicy{}, nil)
	assert.Error(t, err)
	_, err = NewDOM(crawler.ExtractorPolicy{Fields: []crawler.FieldSelector{{Name: "t", Selector: "div[["}}}, nil)
	assert.Error(t, err)
	_, err = NewDOM(crawler.ExtractorPolicy{Fields: []crawler.FieldSelector{{Name: "t", Selector: "xpath://div[@"}}}, nil)
	assert.Error(t, err)
	_, err = NewDOM(crawler.ExtractorPolicy{Fields: []crawler.FieldSelector{{Selector: "h2"}}}, nil)
	assert.Error(t, err)
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		raw   string
		attr  string
		xpath bool
	}{
		{raw: "h2", attr: ""},
		{raw: "h2::text", attr: ""},
		{raw: "img::attr(src)", attr: "src"},
		{raw: "img::attr( data-src )", attr: "data-src"},
		{raw: "xpath://a/@href", attr: "href", xpath: true},
		{raw: "xpath://a", attr: "", xpath: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sel, err := ParseSelector(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.attr, sel.attr)
			assert.Equal(t, tt.xpath, sel.xpath != nil)
		})
	}

	_, err := ParseSelector("  ")
	assert.Error(t, err)
}

func TestNewDispatch(t *testing.T) {
	e, err := New(crawler.ExtractorPolicy{Script: "return 1;"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ScriptExtractor{}, e)

	e, err = New(crawler.ExtractorPolicy{Fields: []crawler.FieldSelector{{Name: "a", Selector: "a"}}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &DOMExtractor{}, e)

	_, err = New(crawler.ExtractorPolicy{Strategy: "ocr"}, nil)
	assert.Error(t, err)
}
