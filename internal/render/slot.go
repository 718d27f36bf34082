package render

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/photoqueue"
	"gtg-gateway/internal/places"
)

// Kind selects the card layout, which decides the placeholder asset.
type Kind int

const (
	KindAttraction Kind = iota
	KindRestaurant
)

const (
	PlaceholderAttraction = "/images/placeholder-2x1.svg"
	PlaceholderRestaurant = "/images/restaurant-placeholder-1x1.svg"

	TitleBlocked      = "Image blocked to avoid quota; click to load"
	TitleStillBlocked = "Still blocked — please try again later"
)

func (k Kind) Placeholder() string {
	if k == KindRestaurant {
		return PlaceholderRestaurant
	}
	return PlaceholderAttraction
}

// Slot is the image element of one card.
type Slot struct {
	page  *Page
	place places.Place
	kind  Kind

	mu             sync.Mutex
	alive          bool
	activated      bool
	src            string
	payload        cache.Payload
	placeholder    bool
	triedRef       bool
	retryAttempted bool
	blockedRef     string
	title          string
	y, height      float64
}

// State is a snapshot of what the slot currently displays.
type State struct {
	Src            string
	Payload        cache.Payload
	Placeholder    bool
	ClickToLoad    bool
	Title          string
	TriedReference bool
	RetryAttempted bool
}

func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Src:            s.src,
		Payload:        s.payload,
		Placeholder:    s.placeholder,
		ClickToLoad:    s.blockedRef != "",
		Title:          s.title,
		TriedReference: s.triedRef,
		RetryAttempted: s.retryAttempted,
	}
}

func (s *Slot) Place() places.Place { return s.place }

// SetBounds records the slot's vertical position for Page.Viewport.
func (s *Slot) SetBounds(y, height float64) {
	s.mu.Lock()
	s.y, s.height = y, height
	s.mu.Unlock()
}

func (s *Slot) Bounds() (y, height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.y, s.height
}

func (s *Slot) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Detach marks the slot as removed from the page. Nothing touches it afterwards.
func (s *Slot) Detach() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

// Show displays a loaded picture. It is called by the loader and the photo queue.
func (s *Slot) Show(src string, p cache.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return
	}
	s.src = src
	s.payload = p
	s.placeholder = false
	s.blockedRef = ""
	s.title = ""
}

// Activate starts loading the slot's picture. Only the first call does anything; it reports
// whether this call was the one.
func (s *Slot) Activate() bool {
	s.mu.Lock()
	if !s.alive || s.activated {
		s.mu.Unlock()
		return false
	}
	s.activated = true
	s.mu.Unlock()

	src := ""
	if len(s.place.Photos) > 0 {
		src = s.place.Photos[0]
	}
	if src == "" {
		s.fail("")
		return true
	}
	s.load(src)
	return true
}

// load routes src to the photo queue when it is a photo reference URL, else to the loader.
func (s *Slot) load(src string) {
	p := s.page
	ctx := p.ctx

	ref, isRef := places.ReferenceFromURL(src)
	if !isRef {
		p.awaitLoad(p.loader.Enqueue(ctx, s, src), func(ok bool) {
			if !ok {
				s.fail("")
			}
		})
		return
	}

	s.mu.Lock()
	s.triedRef = true
	s.mu.Unlock()

	if p.ReferencesDisabled() {
		s.fail("")
		return
	}
	if p.tracker != nil && p.tracker.Suppressed(ctx, ref) {
		s.offerClickToLoad(ref)
		return
	}

	t, ok := p.queue.TryEnqueue(ctx, s, ref, photoqueue.Options{Page: p.cfg.ID})
	if !ok {
		s.offerClickToLoad(ref)
		return
	}
	p.await(t.Done(), t.OK, func(ok bool) {
		if !ok {
			s.fail(ref)
		}
	})
}

// fail handles a terminal load failure. attemptedRef is the photo reference that just failed,
// if the failed load was one.
func (s *Slot) fail(attemptedRef string) {
	p := s.page

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	tryRef := !s.triedRef && len(s.place.PhotoRefs) > 0 && !p.ReferencesDisabled()
	if tryRef {
		s.triedRef = true
	} else {
		s.src = s.kind.Placeholder()
		s.placeholder = true
	}
	s.mu.Unlock()

	if tryRef {
		s.load(p.photoURL(s.place.PhotoRefs[0]))
		return
	}

	if attemptedRef == "" {
		return
	}
	p.recordReferenceFailure(attemptedRef)
	if p.tracker != nil && p.tracker.Suppressed(p.ctx, attemptedRef) {
		p.logger.Debug("photo_reference_suppressed", zap.String("photo_ref", attemptedRef))
		return
	}
	p.scheduleRetry(s, attemptedRef)
}

// offerClickToLoad leaves the placeholder up and lets the user load ref by hand.
func (s *Slot) offerClickToLoad(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive || s.blockedRef != "" {
		return
	}
	s.blockedRef = ref
	s.title = TitleBlocked
}

// Click is the user asking for a blocked image. It bypasses the page's automatic limit but
// still spends session budget. It reports whether the load was accepted; on refusal the
// slot's title says it is still blocked.
func (s *Slot) Click(ctx context.Context) bool {
	p := s.page

	s.mu.Lock()
	ref := s.blockedRef
	alive := s.alive
	s.mu.Unlock()
	if !alive || ref == "" {
		return false
	}

	t, ok := p.queue.TryEnqueue(ctx, s, ref, photoqueue.Options{Page: p.cfg.ID, Manual: true})
	if !ok {
		s.mu.Lock()
		s.title = TitleStillBlocked
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	s.blockedRef = ""
	s.title = ""
	s.mu.Unlock()

	p.await(t.Done(), t.OK, func(ok bool) {
		if !ok {
			p.recordReferenceFailure(ref)
		}
	})
	return true
}

// claimRetry marks the slot's single automatic retry as used. It refuses when the slot is
// gone, already retried or no longer on its placeholder.
func (s *Slot) claimRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive || s.retryAttempted || !s.placeholder {
		return false
	}
	s.retryAttempted = true
	return true
}
