package recognition

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// MockClient answers from a fixed catalogue after a random delay, for demos
// without service credentials.
type MockClient struct {
	Catalogue   []Song
	MinDelay    time.Duration
	MaxDelay    time.Duration
	SuccessRate float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewMockClient returns a mock with a 2-5 s delay and 80% success rate.
func NewMockClient(seed uint64) *MockClient {
	return &MockClient{
		Catalogue:   MockCatalogue(),
		MinDelay:    2 * time.Second,
		MaxDelay:    5 * time.Second,
		SuccessRate: 0.8,
		rand:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Identify waits out the simulated latency, then returns a catalogue song or ErrNoMatch.
func (m *MockClient) Identify(ctx context.Context, _ []byte) (Song, error) {
	delay, hit, pick := m.roll()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Song{}, ctx.Err()
	case <-timer.C:
	}

	if !hit || len(m.Catalogue) == 0 {
		return Song{}, ErrNoMatch
	}
	return m.Catalogue[pick%len(m.Catalogue)], nil
}

func (m *MockClient) roll() (time.Duration, bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rand == nil {
		m.rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	delay := m.MinDelay
	if span := m.MaxDelay - m.MinDelay; span > 0 {
		delay += time.Duration(m.rand.Int64N(int64(span) + 1))
	}
	hit := m.rand.Float64() < m.SuccessRate
	return delay, hit, m.rand.IntN(1 << 16)
}

// MockCatalogue returns the demo songs served by MockClient.
func MockCatalogue() []Song {
	return []Song{
		{
			Title:       "告白气球",
			Artists:     []string{"周杰伦"},
			Album:       "周杰伦的床边故事",
			DurationMS:  203000,
			Genres:      []string{"流行", "华语"},
			ReleaseDate: "2016-06-24",
			ExternalIDs: &ExternalIDs{Spotify: "4uLU6hMCjMI75M1A2tKUQC", YouTube: "bu7uUBNmrA4", ISRC: "TWA471600001"},
		},
		{
			Title:       "稻香",
			Artists:     []string{"周杰伦"},
			Album:       "魔杰座",
			DurationMS:  220000,
			Genres:      []string{"流行", "华语"},
			ReleaseDate: "2008-10-15",
			ExternalIDs: &ExternalIDs{Spotify: "1PBzs8HCyNqE2VaQUMhY0R", YouTube: "MH4TLFbTyAY", ISRC: "TWA470800009"},
		},
		{
			Title:       "青花瓷",
			Artists:     []string{"周杰伦"},
			Album:       "我很忙",
			DurationMS:  230000,
			Genres:      []string{"流行", "华语", "古风"},
			ReleaseDate: "2007-11-02",
			ExternalIDs: &ExternalIDs{Spotify: "6k8x8z23qkDTvl7rnLcVxL", YouTube: "JBe8a8lHo-w", ISRC: "TWA470700003"},
		},
		{
			Title:       "Shape of You",
			Artists:     []string{"Ed Sheeran"},
			Album:       "÷ (Divide)",
			DurationMS:  233712,
			Genres:      []string{"Pop", "Dance", "Tropical House"},
			ReleaseDate: "2017-01-06",
			ExternalIDs: &ExternalIDs{Spotify: "7qiZfU4dY1lWllzX7mPBI3", YouTube: "JGwWNGJdvx8", ISRC: "GBAHS1600214"},
		},
		{
			Title:       "晴天",
			Artists:     []string{"周杰伦"},
			Album:       "叶惠美",
			DurationMS:  269000,
			Genres:      []string{"流行", "华语"},
			ReleaseDate: "2003-07-31",
			ExternalIDs: &ExternalIDs{Spotify: "6DsFr3lHfGF0lRdBtB8txK", YouTube: "lBhq6s8QU8A", ISRC: "TWA470300011"},
		},
	}
}
