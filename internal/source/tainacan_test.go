package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/12" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"id":12,"name":"Ceramics","description":"Pottery and such","url":"https://museum.example.org/ceramics","items_count":340}`)
	}))
	defer srv.Close()

	client := NewTainacanClient(srv.URL)

	col, err := client.GetCollection(context.Background(), 12)
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	if col.ID != 12 {
		t.Errorf("ID = %d", col.ID)
	}
	if col.Name != "Ceramics" {
		t.Errorf("Name = %q", col.Name)
	}
	if col.ItemsCount != 340 {
		t.Errorf("ItemsCount = %d", col.ItemsCount)
	}
}

func TestGetCollectionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewTainacanClient(srv.URL)

	_, err := client.GetCollection(context.Background(), 999)
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("got %v, want ErrCollectionNotFound", err)
	}
}

func TestGetCollectionZeroID(t *testing.T) {
	// Some WordPress setups answer unknown routes with an empty object and
	// HTTP 200. A zero ID marks the collection as missing.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewTainacanClient(srv.URL)

	_, err := client.GetCollection(context.Background(), 12)
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("got %v, want ErrCollectionNotFound", err)
	}
}

func TestGetCollectionItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collection/12/items" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("perpage") != "50" {
			t.Errorf("perpage = %q", q.Get("perpage"))
		}
		if q.Get("paged") != "2" {
			t.Errorf("paged = %q", q.Get("paged"))
		}
		fmt.Fprint(w, `{"items":[
			{"id":101,"title":"Vase","description":"A tall vase","url":"https://museum.example.org/vase",
			 "metadata":[{"name":"Material","value_as_string":"Clay"},{"name":"Origin","value_as_string":""}]},
			{"id":102,"title":"Bowl","description":"","url":"",
			 "metadata":{"material":{"name":"Material","value_as_string":"Porcelain"}}}
		]}`)
	}))
	defer srv.Close()

	client := NewTainacanClient(srv.URL)

	items, err := client.GetCollectionItems(context.Background(), 12, 50, 2)
	if err != nil {
		t.Fatalf("GetCollectionItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	if items[0].ID != 101 || items[0].Title != "Vase" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[0].Metadata["Material"] != "Clay" {
		t.Errorf("metadata = %v", items[0].Metadata)
	}
	if _, ok := items[0].Metadata["Origin"]; ok {
		t.Error("empty metadata value should be dropped")
	}

	// Object-keyed metadata decodes the same as the array form.
	if items[1].Metadata["Material"] != "Porcelain" {
		t.Errorf("items[1] metadata = %v", items[1].Metadata)
	}
}

func TestGetCollectionItemsPastEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	client := NewTainacanClient(srv.URL)

	items, err := client.GetCollectionItems(context.Background(), 12, 50, 99)
	if err != nil {
		t.Fatalf("GetCollectionItems: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("got %d items, want 0", len(items))
	}
}

func TestGetCollectionItemsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewTainacanClient(srv.URL)

	_, err := client.GetCollectionItems(context.Background(), 12, 50, 1)
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}
