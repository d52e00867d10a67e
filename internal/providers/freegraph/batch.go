// Package freegraph adapts a free GraphQL metadata/work-graph service.
// Queries are accumulated into a batching client so many per-ISBN lookups
// share one upstream round trip, ported from the teacher's
// batchedgqlclient (internal/graphql.go) which manipulates the
// graphql-go/graphql AST to merge multiple field selections into a single
// operation before handing it to Khan/genqlient's runtime client.
package freegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"
	"github.com/graphql-go/graphql/language/visitor"

	"github.com/jukasdrj/alexandria/internal/logging"
)

// batchedClient accumulates queries and executes them in batch to make
// better use of upstream RPS limits.
type batchedClient struct {
	mu sync.Mutex

	batchSize int
	queue     []batchedQuery

	wrapped graphql.Client
}

// newBatchedClient creates a batching GraphQL client. Queries are
// accumulated and flushed every rate interval.
func newBatchedClient(url string, client *http.Client, rate time.Duration, batchSize int) graphql.Client {
	c := &batchedClient{
		batchSize: batchSize,
		wrapped:   graphql.NewClient(url, client),
	}
	go func() {
		for {
			time.Sleep(rate)
			c.flush(context.Background())
		}
	}()
	return c
}

func (c *batchedClient) flush(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return
	}
	batch := c.queue[0]
	c.queue = c.queue[1:]

	query, vars, err := batch.qb.build()
	if err != nil {
		logging.Log(ctx).Error("freegraph: unable to build batched query", "err", err)
		return
	}

	data := map[string]any{}
	req := &graphql.Request{Query: query, Variables: vars, OpName: batch.qb.op.Name.Value}
	resp := &graphql.Response{Data: &data}

	go func(batch batchedQuery) {
		cctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		err := c.wrapped.MakeRequest(cctx, req, resp)
		if resp != nil && len(resp.Errors) > 0 {
			for _, e := range resp.Errors {
				sub, ok := batch.subscribers[e.Path.String()]
				if !ok {
					continue
				}
				sub.respC <- fmt.Errorf("freegraph: %s", e.Message)
				delete(batch.subscribers, e.Path.String())
			}
		} else if err != nil {
			logging.Log(cctx).Warn("freegraph: batched query failed", "subscribers", len(batch.subscribers), "err", err)
			for _, sub := range batch.subscribers {
				sub.respC <- err
			}
			return
		}

		for id, sub := range batch.subscribers {
			byt, err := json.Marshal(map[string]any{sub.field: data[id]})
			if err != nil {
				sub.respC <- err
				continue
			}
			sub.respC <- json.Unmarshal(byt, &sub.resp.Data)
		}
	}(batch)
}

// MakeRequest implements graphql.Client.
func (c *batchedClient) MakeRequest(ctx context.Context, req *graphql.Request, resp *graphql.Response) error {
	return <-c.enqueue(req, resp).respC
}

func (c *batchedClient) enqueue(req *graphql.Request, resp *graphql.Response) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 || len(c.queue[len(c.queue)-1].subscribers) >= c.batchSize {
		c.queue = append(c.queue, batchedQuery{qb: newQueryBuilder(), subscribers: map[string]*subscription{}})
	}
	batch := c.queue[len(c.queue)-1]

	respC := make(chan error, 1)
	var vars map[string]any
	out, _ := json.Marshal(req.Variables)
	_ = json.Unmarshal(out, &vars)

	id, field, err := batch.qb.add(req.Query, vars)
	if err != nil {
		respC <- err
	}
	sub := &subscription{resp: resp, respC: respC, field: field}
	batch.subscribers[id] = sub
	return sub
}

type subscription struct {
	resp  *graphql.Response
	respC chan error
	field string
}

type queryBuilder struct {
	op   *ast.OperationDefinition
	vars map[string]any
}

type batchedQuery struct {
	qb          *queryBuilder
	subscribers map[string]*subscription
}

func newQueryBuilder() *queryBuilder {
	return &queryBuilder{vars: make(map[string]any)}
}

const idRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randID(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idRunes[rand.IntN(len(idRunes))]
	}
	return string(b)
}

// add extends the current query with a new field, renaming its variables and
// aliasing its top selection to a random ID so the merged query has no
// collisions across concurrent callers.
func (qb *queryBuilder) add(query string, vars map[string]any) (id string, field string, err error) {
	src := source.NewSource(&source.Source{Body: []byte(query)})
	parsedDoc, err := parser.Parse(parser.ParseParams{Source: src})
	if err != nil {
		return "", "", fmt.Errorf("freegraph: parse query: %w", err)
	}

	id = randID(8)
	varRename := make(map[string]string)

	for _, def := range parsedDoc.Definitions {
		opDef, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if qb.op == nil {
			qb.op = opDef
		}

		opts := visitor.VisitInParallel(&visitor.VisitorOptions{
			Enter: func(p visitor.VisitFuncParams) (string, interface{}) {
				switch node := p.Node.(type) {
				case *ast.VariableDefinition:
					oldName := node.Variable.Name.Value
					newName := id + "_" + oldName
					varRename[oldName] = newName
					node.Variable.Name.Value = newName
					qb.vars[newName] = vars[oldName]
				case *ast.Variable:
					if newName, ok := varRename[node.Name.Value]; ok {
						node.Name.Value = newName
					}
				case *ast.Field:
					if len(p.Ancestors) == 3 {
						field = node.Name.Value
						node.Alias = &ast.Name{Value: id, Kind: "Name"}
					}
				}
				return visitor.ActionNoChange, nil
			},
		})
		visitor.Visit(opDef, opts, nil)

		if qb.op == opDef {
			continue
		}
		qb.op.SelectionSet.Selections = append(qb.op.SelectionSet.Selections, opDef.SelectionSet.Selections...)
		qb.op.VariableDefinitions = append(qb.op.VariableDefinitions, opDef.VariableDefinitions...)
	}

	return id, field, nil
}

func (qb *queryBuilder) build() (string, map[string]any, error) {
	return fmt.Sprint(printer.Print(qb.op)), qb.vars, nil
}
