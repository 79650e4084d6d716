package schema

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Chart results wrapper names. The API renamed the field between versions;
// the decoder reads exactly the configured one.
const (
	ChartFieldData  = "data"
	ChartFieldArray = "array"
)

// ErrMalformed matches every decode failure.
var ErrMalformed = errors.New("malformed response")

// MalformedError describes why a body could not be decoded into a schema.
type MalformedError struct {
	Schema string
	Field  string // set when a required field is missing
	Err    error  // set when the body is not valid JSON for the schema
}

func (e *MalformedError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: missing required field %q", e.Schema, e.Field)
	}
	return fmt.Sprintf("decode %s: %v", e.Schema, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformed) hold for any MalformedError.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

func missing(schema, field string) error {
	return &MalformedError{Schema: schema, Field: field}
}

func invalid(schema string, err error) error {
	return &MalformedError{Schema: schema, Err: err}
}

// Wire shapes use pointers so absent required fields can be told apart from zero values.

type wireChartBucket struct {
	Timestamp *uint64           `json:"timestamp"`
	Values    *[]wireChartValue `json:"values"`
}

type wireChartValue struct {
	ID    *string  `json:"id"`
	Name  *string  `json:"name"`
	Value *float64 `json:"value"`
}

// DecodeChartSeries decodes a billing chart body. field selects the results
// wrapper name (ChartFieldData or ChartFieldArray); empty means ChartFieldData.
func DecodeChartSeries(body []byte, field string) (ChartSeries, error) {
	const name = "chart series"
	if field == "" {
		field = ChartFieldData
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ChartSeries{}, invalid(name, err)
	}
	raw, ok := envelope[field]
	if !ok || isNull(raw) {
		return ChartSeries{}, missing(name, field)
	}

	var buckets []wireChartBucket
	if err := json.Unmarshal(raw, &buckets); err != nil {
		return ChartSeries{}, invalid(name, err)
	}

	out := ChartSeries{Data: make([]ChartBucket, 0, len(buckets))}
	for i, b := range buckets {
		if b.Timestamp == nil {
			return ChartSeries{}, missing(name, fmt.Sprintf("%s[%d].timestamp", field, i))
		}
		if b.Values == nil {
			return ChartSeries{}, missing(name, fmt.Sprintf("%s[%d].values", field, i))
		}
		bucket := ChartBucket{Timestamp: *b.Timestamp, Values: make([]ChartValue, 0, len(*b.Values))}
		for j, v := range *b.Values {
			path := fmt.Sprintf("%s[%d].values[%d]", field, i, j)
			switch {
			case v.ID == nil:
				return ChartSeries{}, missing(name, path+".id")
			case v.Name == nil:
				return ChartSeries{}, missing(name, path+".name")
			case v.Value == nil:
				return ChartSeries{}, missing(name, path+".value")
			}
			bucket.Values = append(bucket.Values, ChartValue{ID: *v.ID, Name: *v.Name, Value: *v.Value})
		}
		out.Data = append(out.Data, bucket)
	}
	return out, nil
}

type wireDeploymentCosts struct {
	TotalCost   *float64              `json:"totalCost"`
	Deployments *[]wireDeploymentCost `json:"deployments"`
}

type wireDeploymentCost struct {
	ID         *string              `json:"id"`
	Name       *string              `json:"name"`
	CostsTotal *float64             `json:"costsTotal"`
	HourlyRate *float64             `json:"hourlyRate"`
	Dimensions *[]wireCostDimension `json:"dimensions"`
}

type wireCostDimension struct {
	Type *string  `json:"type"`
	Cost *float64 `json:"cost"`
}

// DecodeDeploymentCosts decodes a month-to-date deployment costs body.
func DecodeDeploymentCosts(body []byte) (DeploymentCosts, error) {
	const name = "deployment costs"

	var w wireDeploymentCosts
	if err := json.Unmarshal(body, &w); err != nil {
		return DeploymentCosts{}, invalid(name, err)
	}
	if w.TotalCost == nil {
		return DeploymentCosts{}, missing(name, "totalCost")
	}
	if w.Deployments == nil {
		return DeploymentCosts{}, missing(name, "deployments")
	}

	out := DeploymentCosts{TotalCost: *w.TotalCost, Deployments: make([]DeploymentCost, 0, len(*w.Deployments))}
	for i, d := range *w.Deployments {
		path := fmt.Sprintf("deployments[%d]", i)
		switch {
		case d.ID == nil:
			return DeploymentCosts{}, missing(name, path+".id")
		case d.Name == nil:
			return DeploymentCosts{}, missing(name, path+".name")
		case d.CostsTotal == nil:
			return DeploymentCosts{}, missing(name, path+".costsTotal")
		case d.HourlyRate == nil:
			return DeploymentCosts{}, missing(name, path+".hourlyRate")
		case d.Dimensions == nil:
			return DeploymentCosts{}, missing(name, path+".dimensions")
		}
		cost := DeploymentCost{
			ID:         *d.ID,
			Name:       *d.Name,
			CostsTotal: *d.CostsTotal,
			HourlyRate: *d.HourlyRate,
			Dimensions: make([]CostDimension, 0, len(*d.Dimensions)),
		}
		for j, dim := range *d.Dimensions {
			dimPath := fmt.Sprintf("%s.dimensions[%d]", path, j)
			if dim.Type == nil {
				return DeploymentCosts{}, missing(name, dimPath+".type")
			}
			if dim.Cost == nil {
				return DeploymentCosts{}, missing(name, dimPath+".cost")
			}
			cost.Dimensions = append(cost.Dimensions, CostDimension{Type: *dim.Type, Cost: *dim.Cost})
		}
		out.Deployments = append(out.Deployments, cost)
	}
	return out, nil
}

type wireGroupListing struct {
	Results    *[]wireGroup `json:"results"`
	TotalCount *uint16      `json:"totalCount"`
}

type wireGroup struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

// DecodeGroupListing decodes the first page of the project listing.
func DecodeGroupListing(body []byte) (GroupListing, error) {
	const name = "group listing"

	var w wireGroupListing
	if err := json.Unmarshal(body, &w); err != nil {
		return GroupListing{}, invalid(name, err)
	}
	if w.Results == nil {
		return GroupListing{}, missing(name, "results")
	}
	if w.TotalCount == nil {
		return GroupListing{}, missing(name, "totalCount")
	}

	out := GroupListing{TotalCount: *w.TotalCount, Results: make([]Group, 0, len(*w.Results))}
	for i, g := range *w.Results {
		if g.ID == nil {
			return GroupListing{}, missing(name, fmt.Sprintf("results[%d].id", i))
		}
		if g.Name == nil {
			return GroupListing{}, missing(name, fmt.Sprintf("results[%d].name", i))
		}
		out.Results = append(out.Results, Group{ID: *g.ID, Name: *g.Name})
	}
	return out, nil
}

type wireClusterListing struct {
	Results *[]struct {
		Name *string `json:"name"`
	} `json:"results"`
}

// DecodeClusterListing decodes the cluster listing of one project.
func DecodeClusterListing(body []byte) (ClusterListing, error) {
	const name = "cluster listing"

	var w wireClusterListing
	if err := json.Unmarshal(body, &w); err != nil {
		return ClusterListing{}, invalid(name, err)
	}
	if w.Results == nil {
		return ClusterListing{}, missing(name, "results")
	}

	out := ClusterListing{Results: make([]Cluster, 0, len(*w.Results))}
	for i, c := range *w.Results {
		if c.Name == nil {
			return ClusterListing{}, missing(name, fmt.Sprintf("results[%d].name", i))
		}
		out.Results = append(out.Results, Cluster{Name: *c.Name})
	}
	return out, nil
}

type wireUserListing struct {
	Results *[]wireDatabaseUser `json:"results"`
}

type wireDatabaseUser struct {
	Username *string `json:"username"`
	Scopes   []struct {
		Name *string `json:"name"`
		Type *string `json:"type"`
	} `json:"scopes"`
}

// DecodeUserListing decodes the database user listing of one project.
// A user without scopes decodes to an empty Scopes slice.
func DecodeUserListing(body []byte) (UserListing, error) {
	const name = "user listing"

	var w wireUserListing
	if err := json.Unmarshal(body, &w); err != nil {
		return UserListing{}, invalid(name, err)
	}
	if w.Results == nil {
		return UserListing{}, missing(name, "results")
	}

	out := UserListing{Results: make([]DatabaseUser, 0, len(*w.Results))}
	for i, u := range *w.Results {
		path := fmt.Sprintf("results[%d]", i)
		if u.Username == nil {
			return UserListing{}, missing(name, path+".username")
		}
		user := DatabaseUser{Username: *u.Username, Scopes: make([]Scope, 0, len(u.Scopes))}
		for j, s := range u.Scopes {
			scopePath := fmt.Sprintf("%s.scopes[%d]", path, j)
			if s.Name == nil {
				return UserListing{}, missing(name, scopePath+".name")
			}
			if s.Type == nil {
				return UserListing{}, missing(name, scopePath+".type")
			}
			user.Scopes = append(user.Scopes, Scope{Name: *s.Name, Type: *s.Type})
		}
		out.Results = append(out.Results, user)
	}
	return out, nil
}

// DecodeChangeStatus decodes a cluster change status. Unknown status strings are kept as-is.
func DecodeChangeStatus(body []byte) (ChangeStatus, error) {
	const name = "change status"

	var w struct {
		ChangeStatus *string `json:"changeStatus"`
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return ChangeStatus{}, invalid(name, err)
	}
	if w.ChangeStatus == nil {
		return ChangeStatus{}, missing(name, "changeStatus")
	}
	return ChangeStatus{ChangeStatus: *w.ChangeStatus}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 4 && string(raw) == "null"
}
