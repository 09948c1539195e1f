package memory

import (
	"sort"

	"github.com/opsmend/opsmend/internal/models"
)

// Cluster is a group of mutually similar incidents with a representative
// message for display.
type Cluster struct {
	Representative string          `json:"representative"`
	ErrorType      string          `json:"error_type"`
	Severity       models.Severity `json:"severity"`
	Count          int             `json:"count"`
	IncidentIDs    []string        `json:"incident_ids"`
}

// Clusters greedily groups stored incidents by pairwise similarity. Each
// incident joins the first cluster whose seed it matches at or above the
// threshold; otherwise it seeds a new cluster. Clusters are returned largest
// first.
func (s *Store) Clusters(threshold float64) []Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()

	type seed struct {
		incident *models.Incident
		cluster  *Cluster
	}
	var seeds []seed
	var clusters []*Cluster

	for _, incident := range s.incidents {
		placed := false
		for _, sd := range seeds {
			if similarity(sd.incident, incident) >= threshold {
				sd.cluster.Count++
				sd.cluster.IncidentIDs = append(sd.cluster.IncidentIDs, incident.ID)
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		c := &Cluster{
			Representative: incident.LogEntry.Message,
			ErrorType:      incident.Classification.ErrorType,
			Severity:       incident.Classification.Severity,
			Count:          1,
			IncidentIDs:    []string{incident.ID},
		}
		clusters = append(clusters, c)
		seeds = append(seeds, seed{incident, c})
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Count > clusters[j].Count
	})
	out := make([]Cluster, len(clusters))
	for i, c := range clusters {
		out[i] = *c
	}
	return out
}
