// Package schema holds the response shapes returned by the managed service API
// and one explicit decode function per endpoint.
package schema

// ChartSeries is the billing chart response: hourly rate per deployment, bucketed by time.
type ChartSeries struct {
	Data []ChartBucket `json:"data"`
}

// ChartBucket is one time bucket of a chart.
type ChartBucket struct {
	Timestamp uint64       `json:"timestamp"`
	Values    []ChartValue `json:"values"`
}

// ChartValue is the rate of one deployment inside a bucket.
type ChartValue struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// DeploymentCosts is the month-to-date cost breakdown.
type DeploymentCosts struct {
	TotalCost   float64          `json:"totalCost"`
	Deployments []DeploymentCost `json:"deployments"`
}

// DeploymentCost is the cost of one deployment.
type DeploymentCost struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CostsTotal float64         `json:"costsTotal"`
	HourlyRate float64         `json:"hourlyRate"`
	Dimensions []CostDimension `json:"dimensions"`
}

// CostDimension is one itemized line of a deployment cost (capacity, transfer, storage...).
type CostDimension struct {
	Type string  `json:"type"`
	Cost float64 `json:"cost"`
}

// GroupListing is the top-level project listing.
// Only the first page is read; totalCount is kept so truncation can be reported.
type GroupListing struct {
	Results    []Group `json:"results"`
	TotalCount uint16  `json:"totalCount"`
}

// Group is a project. Identity is ID.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClusterListing lists the clusters of one project.
type ClusterListing struct {
	Results []Cluster `json:"results"`
}

// Cluster is a cluster belonging to a project.
type Cluster struct {
	Name string `json:"name"`
}

// UserListing lists the database users of one project.
type UserListing struct {
	Results []DatabaseUser `json:"results"`
}

// DatabaseUser is one database user and the resources it is scoped to.
type DatabaseUser struct {
	Username string  `json:"username"`
	Scopes   []Scope `json:"scopes"`
}

// Scope restricts a user to one named resource.
type Scope struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Known change status values. Anything else is kept verbatim.
const (
	StatusApplied = "APPLIED"
	StatusPending = "PENDING"
)

// ChangeStatus reports whether the last configuration change of a cluster has been applied.
type ChangeStatus struct {
	ChangeStatus string `json:"changeStatus"`
}
