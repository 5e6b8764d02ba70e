package mapper

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
)

func articleSchema() content.Schema {
	return content.Schema{
		Fields: []content.FieldSpec{
			{UID: "f-summary", Handle: "summary", Type: content.FieldText},
			{UID: "f-price", Handle: "price", Type: content.FieldNumber},
			{UID: "f-body", Handle: "body", Type: content.FieldMatrix},
		},
		BlockFields: map[string][]content.FieldSpec{
			"f-body": {
				{UID: "s-text", Handle: "text", Type: content.FieldRichText},
				{UID: "s-quote", Handle: "quote", Type: content.FieldText},
			},
		},
	}
}

func TestDetectOrderAndTypes(t *testing.T) {
	repo := &mockRepo{
		schemaForScopeFn: func(_ context.Context, _ string) (content.Schema, error) {
			return articleSchema(), nil
		},
	}
	mp := newTestMapper(t, repo)
	idx := newTestIndex(t, []domidx.Scope{{ContentType: "article"}}, nil)

	detected, err := mp.Detect(context.Background(), idx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	wantTargets := []string{
		"id", "title", "slug", "uri", "post_date", "content_type", "site",
		"summary", "price",
		"body_text", "body_quote",
	}
	if len(detected) != len(wantTargets) {
		t.Fatalf("Detect() yielded %d mappings, want %d", len(detected), len(wantTargets))
	}
	for i, want := range wantTargets {
		if detected[i].TargetField() != want {
			t.Errorf("mapping[%d] = %q, want %q", i, detected[i].TargetField(), want)
		}
		if detected[i].SortOrder() != i {
			t.Errorf("mapping[%d] sort order = %d, want %d", i, detected[i].SortOrder(), i)
		}
	}

	byTarget := make(map[string]mapping.Mapping)
	for _, m := range detected {
		byTarget[m.TargetField()] = m
	}
	if byTarget["price"].Type() != mapping.Float {
		t.Errorf("price type = %q, want float", byTarget["price"].Type())
	}
	if byTarget["post_date"].Type() != mapping.Date {
		t.Errorf("post_date type = %q, want date", byTarget["post_date"].Type())
	}
	if byTarget["body_text"].ParentUID() != "f-body" {
		t.Errorf("body_text parent = %q, want f-body", byTarget["body_text"].ParentUID())
	}
}

func TestDetectDeduplicatesAcrossScopes(t *testing.T) {
	repo := &mockRepo{
		schemaForScopeFn: func(_ context.Context, _ string) (content.Schema, error) {
			return content.Schema{Fields: []content.FieldSpec{
				{UID: "f-summary", Handle: "summary", Type: content.FieldText},
			}}, nil
		},
	}
	mp := newTestMapper(t, repo)
	idx := newTestIndex(t, []domidx.Scope{
		{ContentType: "article", Site: "en"},
		{ContentType: "article", Site: "de"},
	}, nil)

	detected, err := mp.Detect(context.Background(), idx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	count := 0
	for _, m := range detected {
		if m.FieldUID() == "f-summary" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("f-summary emitted %d times, want once", count)
	}
}

func TestDetectRenamesCollidingTargets(t *testing.T) {
	repo := &mockRepo{
		schemaForScopeFn: func(_ context.Context, _ string) (content.Schema, error) {
			// The field handle collides with the built-in title attribute.
			return content.Schema{Fields: []content.FieldSpec{
				{UID: "f-title", Handle: "title", Type: content.FieldText},
			}}, nil
		},
	}
	mp := newTestMapper(t, repo)
	idx := newTestIndex(t, []domidx.Scope{{ContentType: "article"}}, nil)

	detected, err := mp.Detect(context.Background(), idx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	var fieldTarget string
	for _, m := range detected {
		if m.FieldUID() == "f-title" {
			fieldTarget = m.TargetField()
		}
	}
	if fieldTarget != "title_2" {
		t.Errorf("colliding field target = %q, want title_2", fieldTarget)
	}
}

func TestRedetectMergesByIdentity(t *testing.T) {
	repo := &mockRepo{
		schemaForScopeFn: func(_ context.Context, _ string) (content.Schema, error) {
			return content.Schema{Fields: []content.FieldSpec{
				{UID: "f-summary", Handle: "summary", Type: content.FieldText},
			}}, nil
		},
	}
	mp := newTestMapper(t, repo)

	// The index carries a customized surviving mapping and one whose source
	// field no longer exists in the schema.
	customized, err := mapping.NewAttribute("title", "title", mapping.Text)
	if err != nil {
		t.Fatalf("NewAttribute: %v", err)
	}
	customized = customized.WithRole(mapping.RoleTitle).WithWeight(9)
	vanished := fieldMapping(t, "f-gone", "gone", mapping.Text)

	idx := newTestIndex(t,
		[]domidx.Scope{{ContentType: "article"}},
		[]mapping.Mapping{customized, vanished},
	)

	merged, err := mp.Redetect(context.Background(), idx)
	if err != nil {
		t.Fatalf("Redetect: %v", err)
	}

	byIdentity := make(map[string]mapping.Mapping, len(merged))
	for _, m := range merged {
		byIdentity[m.Identity()] = m
	}

	kept, ok := byIdentity["attr:title"]
	if !ok {
		t.Fatal("surviving title mapping dropped")
	}
	if kept.MappingRole() != mapping.RoleTitle || kept.Weight() != 9 {
		t.Errorf("surviving mapping lost customization: role=%q weight=%d", kept.MappingRole(), kept.Weight())
	}
	if _, ok := byIdentity["field:"+":"+"f-gone"]; ok {
		t.Error("vanished mapping survived the merge")
	}
	fresh, ok := byIdentity["field::f-summary"]
	if !ok {
		t.Fatal("newly discovered field missing from merge")
	}
	if fresh.Weight() != mapping.DefaultWeight || !fresh.Enabled() {
		t.Errorf("new mapping should carry defaults: weight=%d enabled=%v", fresh.Weight(), fresh.Enabled())
	}
}

func TestResolveItem(t *testing.T) {
	mp := newTestMapper(t, &mockRepo{})

	titleAttr, _ := mapping.NewAttribute("title", "title", mapping.Text)
	mappings := []mapping.Mapping{
		titleAttr,
		fieldMapping(t, "f-summary", "summary", mapping.Text),
		fieldMapping(t, "f-price", "price", mapping.Float),
	}
	idx := newTestIndex(t, []domidx.Scope{{ContentType: "article"}}, mappings)

	item := content.Item{
		ID:          42,
		ContentType: "article",
		Site:        "en",
		Title:       "Go in production",
		URI:         "/articles/go",
		Layout: []content.FieldSpec{
			{UID: "f-summary", Handle: "summary", Type: content.FieldText},
			{UID: "f-price", Handle: "price", Type: content.FieldNumber},
		},
		Values: map[string]any{
			"f-summary": "short text",
			"f-price":   19.5,
		},
	}

	doc := mp.ResolveItem(&item, idx)

	if doc.ObjectID() != "42" {
		t.Errorf("objectID = %q, want 42", doc.ObjectID())
	}
	if doc["_type"] != "article" || doc["_site"] != "en" || doc["_uri"] != "/articles/go" {
		t.Errorf("scope metadata = %v/%v/%v", doc["_type"], doc["_site"], doc["_uri"])
	}
	if doc["title"] != "Go in production" {
		t.Errorf("title = %v", doc["title"])
	}
	if doc["summary"] != "short text" {
		t.Errorf("summary = %v", doc["summary"])
	}
	if doc["price"] != 19.5 {
		t.Errorf("price = %v", doc["price"])
	}
}

func TestResolveItemIsIdempotent(t *testing.T) {
	mp := newTestMapper(t, &mockRepo{})

	titleAttr, _ := mapping.NewAttribute("title", "title", mapping.Text)
	sub, err := mapping.NewField("s-text", "f-body", "body_text", mapping.Text)
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	mappings := []mapping.Mapping{
		titleAttr,
		fieldMapping(t, "f-summary", "summary", mapping.Text),
		sub,
	}
	idx := newTestIndex(t, []domidx.Scope{{ContentType: "article"}}, mappings)

	textSpec := content.FieldSpec{UID: "s-text", Handle: "text", Type: content.FieldText}
	item := content.Item{
		ID:          42,
		ContentType: "article",
		Site:        "en",
		Title:       "Go in production",
		URI:         "/articles/go",
		Layout: []content.FieldSpec{
			{UID: "f-summary", Handle: "summary", Type: content.FieldText},
			{UID: "f-body", Handle: "body", Type: content.FieldMatrix},
		},
		Values: map[string]any{
			"f-summary": "short text",
			"f-body": []content.Block{
				{TypeHandle: "paragraph", Layout: []content.FieldSpec{textSpec}, Values: map[string]any{"s-text": "first"}},
				{TypeHandle: "paragraph", Layout: []content.FieldSpec{textSpec}, Values: map[string]any{"s-text": "second"}},
			},
		},
	}

	first := mp.ResolveItem(&item, idx)
	second := mp.ResolveItem(&item, idx)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-resolving an unchanged item diverged:\nfirst  = %v\nsecond = %v", first, second)
	}
}

func TestResolveItemSkipsFailingField(t *testing.T) {
	mp := newTestMapper(t, &mockRepo{})

	mappings := []mapping.Mapping{
		fieldMapping(t, "f-price", "price", mapping.Float),
		fieldMapping(t, "f-summary", "summary", mapping.Text),
	}
	idx := newTestIndex(t, nil, mappings)

	item := content.Item{
		ID: 7,
		Layout: []content.FieldSpec{
			{UID: "f-price", Handle: "price", Type: content.FieldNumber},
			{UID: "f-summary", Handle: "summary", Type: content.FieldText},
		},
		Values: map[string]any{
			"f-price":   "not a number",
			"f-summary": "still here",
		},
	}

	doc := mp.ResolveItem(&item, idx)
	if _, ok := doc["price"]; ok {
		t.Error("failing field should be absent from the document")
	}
	if doc["summary"] != "still here" {
		t.Errorf("healthy field lost: %v", doc["summary"])
	}
}

func TestResolveItemSkipsDisabledMappings(t *testing.T) {
	mp := newTestMapper(t, &mockRepo{})
	mappings := []mapping.Mapping{
		fieldMapping(t, "f-summary", "summary", mapping.Text).WithEnabled(false),
	}
	idx := newTestIndex(t, nil, mappings)

	item := content.Item{
		ID:     7,
		Layout: []content.FieldSpec{{UID: "f-summary", Handle: "summary", Type: content.FieldText}},
		Values: map[string]any{"f-summary": "hidden"},
	}

	doc := mp.ResolveItem(&item, idx)
	if _, ok := doc["summary"]; ok {
		t.Error("disabled mapping must not resolve")
	}
}

func TestResolveSubFieldAggregation(t *testing.T) {
	mp := newTestMapper(t, &mockRepo{})

	sub, err := mapping.NewField("s-text", "f-body", "body_text", mapping.Text)
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	idx := newTestIndex(t, nil, []mapping.Mapping{sub})

	textSpec := content.FieldSpec{UID: "s-text", Handle: "text", Type: content.FieldText}
	item := content.Item{
		ID:     7,
		Layout: []content.FieldSpec{{UID: "f-body", Handle: "body", Type: content.FieldMatrix}},
		Values: map[string]any{
			"f-body": []content.Block{
				{TypeHandle: "paragraph", Layout: []content.FieldSpec{textSpec}, Values: map[string]any{"s-text": "first"}},
				{TypeHandle: "image", Layout: nil, Values: nil},
				{TypeHandle: "paragraph", Layout: []content.FieldSpec{textSpec}, Values: map[string]any{"s-text": "second"}},
			},
		},
	}

	doc := mp.ResolveItem(&item, idx)
	got, ok := doc["body_text"].([]any)
	if !ok {
		t.Fatalf("body_text = %T %v, want a list", doc["body_text"], doc["body_text"])
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("body_text = %v, want [first second]", got)
	}
}

func TestResolveSubFieldFirstOnly(t *testing.T) {
	mp := newTestMapper(t, &mockRepo{})

	sub, err := mapping.NewField("s-text", "f-body", "body_text", mapping.Text)
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	sub = sub.WithResolverConfig(map[string]string{"first_only": "true"})
	idx := newTestIndex(t, nil, []mapping.Mapping{sub})

	textSpec := content.FieldSpec{UID: "s-text", Handle: "text", Type: content.FieldText}
	item := content.Item{
		ID:     7,
		Layout: []content.FieldSpec{{UID: "f-body", Handle: "body", Type: content.FieldMatrix}},
		Values: map[string]any{
			"f-body": []content.Block{
				{Layout: []content.FieldSpec{textSpec}, Values: map[string]any{"s-text": "first"}},
				{Layout: []content.FieldSpec{textSpec}, Values: map[string]any{"s-text": "second"}},
			},
		},
	}

	doc := mp.ResolveItem(&item, idx)
	if doc["body_text"] != "first" {
		t.Errorf("body_text = %v, want first only", doc["body_text"])
	}
}

func TestResolveDateFormats(t *testing.T) {
	spec := content.FieldSpec{Type: content.FieldDate}
	m := fieldMapping(t, "f-date", "published", mapping.Date)
	set := NewResolverSet()

	got, err := set.For(spec.Type).Resolve("2024-03-01T12:00:00Z", spec, m)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != int64(1709294400000) {
		t.Errorf("RFC3339 date = %v, want 1709294400000", got)
	}

	if _, err := set.For(spec.Type).Resolve("yesterday", spec, m); !errors.Is(err, domain.ErrResolver) {
		t.Errorf("unparseable date error = %v, want ErrResolver", err)
	}
}

func TestResolveNumberErrorsWrapResolver(t *testing.T) {
	spec := content.FieldSpec{Type: content.FieldNumber}
	m := fieldMapping(t, "f-n", "n", mapping.Integer)
	set := NewResolverSet()

	got, err := set.For(spec.Type).Resolve("12", spec, m)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != int64(12) {
		t.Errorf("integer mapping = %v (%T), want int64 12", got, got)
	}

	if _, err := set.For(spec.Type).Resolve("abc", spec, m); !errors.Is(err, domain.ErrResolver) {
		t.Errorf("non-numeric error = %v, want ErrResolver", err)
	}
}

func TestResolveAssetEmit(t *testing.T) {
	spec := content.FieldSpec{Type: content.FieldAsset}
	set := NewResolverSet()
	asset := content.Asset{ID: 3, URL: "https://cdn/x.jpg", Title: "X"}

	byURL := fieldMapping(t, "f-a", "image", mapping.Keyword)
	got, err := set.For(spec.Type).Resolve(asset, spec, byURL)
	if err != nil || got != "https://cdn/x.jpg" {
		t.Errorf("default emit = %v, %v, want url", got, err)
	}

	byID := byURL.WithResolverConfig(map[string]string{"emit": "id"})
	got, err = set.For(spec.Type).Resolve(asset, spec, byID)
	if err != nil || got != int64(3) {
		t.Errorf("emit=id = %v, %v, want 3", got, err)
	}
}

func TestRoleCache(t *testing.T) {
	roles, err := NewRoleCache()
	if err != nil {
		t.Fatalf("NewRoleCache: %v", err)
	}

	titled, _ := mapping.NewAttribute("title", "title", mapping.Text)
	idx := newTestIndex(t, nil, []mapping.Mapping{titled.WithRole(mapping.RoleTitle)})

	got := roles.RoleMap(idx)
	if got[mapping.RoleTitle] != "title" {
		t.Fatalf("RoleMap = %v, want title role", got)
	}

	// Mappings change, the stale projection must go.
	retargeted, err := idx.WithMappings([]mapping.Mapping{
		titled.WithRole(mapping.RoleTitle).WithTargetField("headline"),
	})
	if err != nil {
		t.Fatalf("WithMappings: %v", err)
	}
	roles.Invalidate(idx.Handle())

	got = roles.RoleMap(retargeted)
	if got[mapping.RoleTitle] != "headline" {
		t.Errorf("RoleMap after invalidate = %v, want headline", got)
	}
}

func TestBuildRoleMapSkipsDisabled(t *testing.T) {
	titled, _ := mapping.NewAttribute("title", "title", mapping.Text)
	idx := newTestIndex(t, nil, []mapping.Mapping{
		titled.WithRole(mapping.RoleTitle).WithEnabled(false),
	})
	if got := BuildRoleMap(idx); len(got) != 0 {
		t.Errorf("BuildRoleMap = %v, want empty for disabled mapping", got)
	}
}
