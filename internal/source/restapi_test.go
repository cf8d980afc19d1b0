package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const apiFixture = `{
  "results": [
    {
      "id": "MLA111",
      "title": "Notebook Gamer",
      "price": 899999.5,
      "permalink": "https://articulo.mercadolibre.com.ar/MLA-111-notebook",
      "thumbnail": "https://http2.mlstatic.com/t1.jpg",
      "seller": {"nickname": "PCSTORE"},
      "shipping": {"free_shipping": true}
    },
    {
      "id": "",
      "title": "Sin id, descartado",
      "price": 100
    },
    {
      "id": "MLA222",
      "title": "Mouse",
      "price": 5000,
      "seller": {"nickname": ""},
      "shipping": {"free_shipping": false}
    }
  ]
}`

func TestAPISource_Search(t *testing.T) {
	var gotQuery, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sites/MLA/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("q")
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(apiFixture))
	}))
	defer srv.Close()

	s := NewAPISource(srv.URL, 5*time.Second, nil)
	products, err := s.Search(context.Background(), "notebook", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "notebook" || gotLimit != "10" {
		t.Fatalf("unexpected query params q=%q limit=%q", gotQuery, gotLimit)
	}
	// The result without an id is dropped.
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	p := products[0]
	if p.ID != "MLA111" || p.Price != 899999.5 || p.Seller != "PCSTORE" || !p.FreeShipping {
		t.Fatalf("unexpected product: %+v", p)
	}
	if p.URL != "https://articulo.mercadolibre.com.ar/MLA-111-notebook" {
		t.Fatalf("unexpected url %q", p.URL)
	}
}

func TestAPISource_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewAPISource(srv.URL, 5*time.Second, nil)
	_, err := s.Search(context.Background(), "notebook", 10)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
