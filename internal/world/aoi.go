package world

import (
	"math"
	"sync"
)

// DefaultAOIRadius is the query radius used when the caller passes 0.
const DefaultAOIRadius = 150

// AOIService answers "what is near player X". The 9-cell region fetch is a
// coarse pre-filter; the Euclidean distance check is the authoritative
// boundary. The neighborhood only covers the radius when the grid cell size
// is at least the radius — that precondition is the caller's, checked at
// room initialization against the configured default and not re-validated
// per query.
type AOIService struct {
	store *Store
}

func NewAOIService(store *Store) *AOIService {
	return &AOIService{store: store}
}

// GetAreaOfInterest returns the players and entities within radius of the
// querying player, excluding the player itself. An absent or expired
// querying player yields an empty result, not an error. The per-region
// fetches are independent and run concurrently; the combined view may be
// slightly stale, which the consistency contract allows.
func (a *AOIService) GetAreaOfInterest(roomID, playerID string, radius float64) AreaOfInterest {
	if radius <= 0 {
		radius = DefaultAOIRadius
	}
	self, ok := a.store.GetPlayerState(roomID, playerID)
	if !ok {
		return AreaOfInterest{}
	}

	regions := append(a.store.Grid().Adjacent(self.Region), self.Region)

	playersByRegion := make([][]PlayerState, len(regions))
	entitiesByRegion := make([][]EntityState, len(regions))
	var wg sync.WaitGroup
	for i, regionID := range regions {
		wg.Add(1)
		go func(i int, regionID string) {
			defer wg.Done()
			playersByRegion[i] = a.store.GetPlayersInRegion(roomID, regionID)
			entitiesByRegion[i] = a.store.GetEntitiesInRegion(roomID, regionID)
		}(i, regionID)
	}
	wg.Wait()

	var aoi AreaOfInterest
	for _, batch := range playersByRegion {
		for _, p := range batch {
			if p.PlayerID == playerID {
				continue
			}
			if withinRadius(self.Position, p.Position, radius) {
				aoi.Players = append(aoi.Players, p)
			}
		}
	}
	for _, batch := range entitiesByRegion {
		for _, e := range batch {
			if withinRadius(self.Position, e.Position, radius) {
				aoi.Entities = append(aoi.Entities, e)
			}
		}
	}
	return aoi
}

func withinRadius(a, b Vec3, radius float64) bool {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx+dy*dy+dz*dz) <= radius
}
