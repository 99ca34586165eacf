package utils

import (
	"fmt"
	"sync"
	"testing"
)

func TestURLSetAdd(t *testing.T) {
	s := NewURLSet()

	if !s.Add("https://www.imovirtual.com/pt/anuncio/t2-lisboa-1") {
		t.Error("first Add should return true")
	}
	if s.Add("https://www.imovirtual.com/pt/anuncio/t2-lisboa-1") {
		t.Error("second Add of same URL should return false")
	}
	if !s.Contains("https://www.imovirtual.com/pt/anuncio/t2-lisboa-1") {
		t.Error("Contains should report the added URL")
	}
	if s.Size() != 1 {
		t.Errorf("Size = %d; want 1", s.Size())
	}
}

func TestURLSetConcurrentAdd(t *testing.T) {
	s := NewURLSet()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Add(fmt.Sprintf("https://www.imovirtual.com/pt/anuncio/item-%d", n%10))
		}(i)
	}
	wg.Wait()

	if s.Size() != 10 {
		t.Errorf("Size = %d; want 10 unique URLs", s.Size())
	}
}
