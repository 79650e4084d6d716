// Package mapper turns decoded API responses into gauge emissions.
// Every function is pure: no I/O, deterministic output order.
package mapper

import (
	"github.com/yairfalse/saasmeter/pkg/emission"
	"github.com/yairfalse/saasmeter/pkg/schema"
)

// Metric names, without namespace.
const (
	HourlyRate               = "hourly_rate"
	MonthlyCostTotal         = "monthly_cost_total"
	MonthlyHourlyRate        = "monthly_hourly_rate"
	ItemizedMonthlyCostTotal = "itemized_monthly_cost_total"
	MonthlyCostGrandTotal    = "monthly_cost_grand_total"
	ProjectUsersTotal        = "project_users_total"
	ProjectUser              = "project_user"
	ProjectClustersTotal     = "project_clusters_total"
	ClusterStatus            = "cluster_status"
)

// Help describes each metric for exposition.
var Help = map[string]string{
	HourlyRate:               "Hourly rate of a deployment from the latest billing chart bucket.",
	MonthlyCostTotal:         "Month-to-date cost of a deployment.",
	MonthlyHourlyRate:        "Hourly rate of a deployment as reported with month-to-date costs.",
	ItemizedMonthlyCostTotal: "Month-to-date cost of a deployment by billing dimension.",
	MonthlyCostGrandTotal:    "Month-to-date cost of the account.",
	ProjectUsersTotal:        "Number of database users in a project.",
	ProjectUser:              "Database user access to a scope within a project.",
	ProjectClustersTotal:     "Number of clusters in a project.",
	ClusterStatus:            "Change status of a cluster: 0 applied, 1 pending, 2 other.",
}

// Ordinals reported by cluster_status.
const (
	StatusApplied = 0
	StatusPending = 1
	StatusOther   = 2
)

// Scope synthesized for users without explicit scopes: they can reach every cluster.
var unscoped = schema.Scope{Name: "all", Type: "CLUSTER"}

// HourlyRates maps the first bucket of a chart to hourly_rate{id,name}.
// An empty chart yields no emissions.
func HourlyRates(series schema.ChartSeries) []emission.Emission {
	if len(series.Data) == 0 {
		return nil
	}

	values := series.Data[0].Values
	out := make([]emission.Emission, 0, len(values))
	for _, v := range values {
		out = append(out, emission.Emission{
			Name:   HourlyRate,
			Value:  v.Value,
			Labels: emission.L("id", v.ID, "name", v.Name),
		})
	}
	return dedupe(out)
}

// MonthlyCosts maps month-to-date costs to per-deployment totals, hourly rates
// and itemized dimensions, plus the account-wide grand total.
func MonthlyCosts(costs schema.DeploymentCosts) []emission.Emission {
	out := []emission.Emission{{
		Name:   MonthlyCostGrandTotal,
		Value:  costs.TotalCost,
		Labels: emission.Labels{},
	}}

	for _, d := range costs.Deployments {
		out = append(out,
			emission.Emission{Name: MonthlyCostTotal, Value: d.CostsTotal, Labels: emission.L("id", d.ID, "name", d.Name)},
			emission.Emission{Name: MonthlyHourlyRate, Value: d.HourlyRate, Labels: emission.L("id", d.ID, "name", d.Name)},
		)
		for _, dim := range d.Dimensions {
			out = append(out, emission.Emission{
				Name:   ItemizedMonthlyCostTotal,
				Value:  dim.Cost,
				Labels: emission.L("id", d.ID, "name", d.Name, "item", dim.Type),
			})
		}
	}
	return dedupe(out)
}

// Project identifies the project a per-project gauge belongs to. Names are not
// unique across an account, so every per-project series carries both.
type Project struct {
	ID   string
	Name string
}

func (p Project) labels(kv ...string) emission.Labels {
	return emission.L(append([]string{"project", p.Name, "project_id", p.ID}, kv...)...)
}

// ProjectUsers maps a project's user listing to project_users_total{project,project_id}
// and one project_user{username,project,project_id,scope}=1 per (user, scope) pair.
func ProjectUsers(project Project, users schema.UserListing) []emission.Emission {
	out := []emission.Emission{{
		Name:   ProjectUsersTotal,
		Value:  float64(len(users.Results)),
		Labels: project.labels(),
	}}

	for _, u := range users.Results {
		scopes := u.Scopes
		if len(scopes) == 0 {
			scopes = []schema.Scope{unscoped}
		}
		for _, s := range scopes {
			out = append(out, emission.Emission{
				Name:   ProjectUser,
				Value:  1,
				Labels: emission.L("username", u.Username, "project", project.Name, "project_id", project.ID, "scope", s.Name),
			})
		}
	}
	return dedupe(out)
}

// ProjectClusters maps a cluster listing to project_clusters_total{project,project_id}.
func ProjectClusters(project Project, clusters schema.ClusterListing) []emission.Emission {
	return []emission.Emission{{
		Name:   ProjectClustersTotal,
		Value:  float64(len(clusters.Results)),
		Labels: project.labels(),
	}}
}

// ClusterStatusOf maps a change status to cluster_status{project,project_id,cluster}.
func ClusterStatusOf(project Project, cluster string, status schema.ChangeStatus) emission.Emission {
	return emission.Emission{
		Name:   ClusterStatus,
		Value:  float64(StatusOrdinal(status.ChangeStatus)),
		Labels: project.labels("cluster", cluster),
	}
}

// StatusOrdinal maps APPLIED to 0, PENDING to 1 and anything else to 2.
func StatusOrdinal(status string) int {
	switch status {
	case schema.StatusApplied:
		return StatusApplied
	case schema.StatusPending:
		return StatusPending
	default:
		return StatusOther
	}
}

// dedupe keeps the last emission per series, at the position of its first occurrence.
// Upstream listings can repeat an entry; a series must carry one value per pass.
func dedupe(in []emission.Emission) []emission.Emission {
	index := make(map[string]int, len(in))
	out := in[:0]
	for _, e := range in {
		key := e.SeriesKey()
		if i, ok := index[key]; ok {
			out[i] = e
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}
