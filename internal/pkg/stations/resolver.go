package stations

import "sort"

// Closest returns the id of the station nearest to target, using squared euclidean distance
// in latitude/longitude space. Ties go to the lowest station id.
func Closest(target *Point, stations Directory) (string, bool) {
	if target == nil || len(stations) == 0 {
		return "", false
	}

	ids := make([]string, 0, len(stations))
	for id := range stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	bestDistance := 0.0

	for _, id := range ids {
		s := stations[id]
		dLat := s.Latitude - target.Latitude
		dLon := s.Longitude - target.Longitude
		d := dLat*dLat + dLon*dLon

		if best == "" || d < bestDistance {
			best = id
			bestDistance = d
		}
	}

	return best, true
}
