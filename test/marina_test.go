package test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/marina/core/backend"
	"github.com/relabs-tech/marina/core/backend/store"
	"github.com/relabs-tech/marina/core/client"
)

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}
	suite.Run(t, &IntegrationTestSuite{})
}

// registeredClient registers the subject and returns an authenticated client
func (s *IntegrationTestSuite) registeredClient(subject string) client.Client {
	_, err := s.store.Put(context.Background(), "user", subject, struct{}{})
	s.Require().NoError(err)
	return client.NewWithRouter(s.router).WithIdentity(subject).WithHeader("Accept", "application/json")
}

func (s *IntegrationTestSuite) createBoat(c client.Client, name string) backend.Boat {
	var boat backend.Boat
	_, err := c.RawPost("/boats", map[string]interface{}{
		"name": name, "type": "sail", "length": 12,
	}, &boat)
	s.Require().NoError(err)
	return boat
}

func (s *IntegrationTestSuite) createLoad(c client.Client, content string) backend.Load {
	var load backend.Load
	_, err := c.RawPost("/loads", map[string]interface{}{
		"volume": 5, "content": content,
	}, &load)
	s.Require().NoError(err)
	return load
}

func (s *IntegrationTestSuite) TestBoatLoadLifecycle() {
	c := s.registeredClient("lifecycle-user")
	boat := s.createBoat(c, "Orca")
	load := s.createLoad(c, "LEGO blocks")

	status, err := c.RawPut("/boats/"+boat.ID+"/loads/"+load.ID, nil, nil)
	s.Require().NoError(err)
	s.Equal(http.StatusNoContent, status)

	var readBoat backend.Boat
	_, err = c.RawGet("/boats/"+boat.ID, &readBoat)
	s.Require().NoError(err)
	s.Require().NotNil(readBoat.Loads)
	s.Require().Len(*readBoat.Loads, 1)
	s.Equal(load.ID, (*readBoat.Loads)[0].ID)

	var readLoad backend.Load
	_, err = c.RawGet("/loads/"+load.ID, &readLoad)
	s.Require().NoError(err)
	s.Require().NotNil(readLoad.Carrier)
	s.Equal(boat.ID, readLoad.Carrier.ID)

	status, err = c.RawDelete("/boats/" + boat.ID)
	s.Require().NoError(err)
	s.Equal(http.StatusNoContent, status)

	readLoad = backend.Load{}
	_, err = c.RawGet("/loads/"+load.ID, &readLoad)
	s.Require().NoError(err)
	s.Nil(readLoad.Carrier)
}

// TestConcurrentAssignment verifies that two concurrent assignments of the
// same load cannot both win: the row locks inside the store transaction
// serialize them, and the loser sees the load as already assigned.
func (s *IntegrationTestSuite) TestConcurrentAssignment() {
	c := s.registeredClient("race-user")
	first := s.createBoat(c, "First")
	second := s.createBoat(c, "Second")
	load := s.createLoad(c, "contested cargo")

	assign := func(boatID string) int {
		r := httptest.NewRequest(http.MethodPut, "/boats/"+boatID+"/loads/"+load.ID, nil).
			WithContext(c.Context())
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, r)
		return rec.Code
	}

	var wg sync.WaitGroup
	statuses := make([]int, 2)
	for i, boatID := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, boatID string) {
			defer wg.Done()
			statuses[i] = assign(boatID)
		}(i, boatID)
	}
	wg.Wait()

	s.ElementsMatch([]int{http.StatusNoContent, http.StatusForbidden}, statuses)

	// exactly one boat carries the load
	carriers := 0
	for _, boatID := range []string{first.ID, second.ID} {
		var boat backend.Boat
		_, err := c.RawGet("/boats/"+boatID, &boat)
		s.Require().NoError(err)
		s.Require().NotNil(boat.Loads)
		carriers += len(*boat.Loads)
	}
	s.Equal(1, carriers)
}

func (s *IntegrationTestSuite) TestPagination() {
	c := s.registeredClient("pagination-user")
	created := map[string]bool{}
	for i := 0; i < 25; i++ {
		load := s.createLoad(c, "beans")
		created[load.ID] = false
	}

	path := "/loads?limit=10"
	pages := 0
	seen := 0
	for {
		var list backend.LoadList
		_, err := c.RawGet(path, &list)
		s.Require().NoError(err)
		pages++
		for _, load := range list.Items {
			if _, ok := created[load.ID]; !ok {
				continue // loads from other tests
			}
			s.Require().False(created[load.ID], "load %s returned twice", load.ID)
			created[load.ID] = true
			seen++
		}
		if list.Next == "" {
			break
		}
		path = strings.TrimPrefix(list.Next, "http://localhost:8080")
	}
	s.Equal(25, seen)
	s.GreaterOrEqual(pages, 3)

	page, err := s.store.List(context.Background(), "load", store.Query{Limit: 10})
	s.Require().NoError(err)
	s.GreaterOrEqual(page.TotalCount, 25)
}

func (s *IntegrationTestSuite) TestNotificationsReachKafka() {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{s.kafkaAddr},
		Topic:       notificationTopic,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	c := s.registeredClient("notification-user")
	s.createLoad(c, "signal cargo")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		message, err := reader.ReadMessage(ctx)
		s.Require().NoError(err, "no load.create notification received")
		if string(message.Key) == "load.create" && strings.Contains(string(message.Value), "signal cargo") {
			break
		}
	}
}
