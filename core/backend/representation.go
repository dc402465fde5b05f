package backend

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/marina/core/backend/store"
)

// entity kinds in the store
const (
	kindBoat = "boat"
	kindLoad = "load"
	kindUser = "user"
)

// LoadRef is a back-reference from a boat to a load it carries
type LoadRef struct {
	ID   string `json:"id"`
	Self string `json:"self,omitempty"`
}

// Carrier is a forward-reference from a load to the boat carrying it
type Carrier struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Self string `json:"self,omitempty"`
}

// boatEntity is the stored document of a boat. Loads is the denormalized
// list of loads that currently name this boat as carrier; it is maintained
// exclusively by the assignment routes and the cascading deletes.
type boatEntity struct {
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Length float64   `json:"length"`
	Owner  string    `json:"owner"`
	Loads  []LoadRef `json:"loads"`
}

// loadEntity is the stored document of a load. Carrier is nil while the
// load is unassigned.
type loadEntity struct {
	Volume       float64  `json:"volume"`
	Content      string   `json:"content"`
	CreationDate string   `json:"creation_date"`
	Carrier      *Carrier `json:"carrier"`
}

type userEntity struct{}

// Boat is the JSON representation of a boat. Loads is only rendered for
// single item views; list views omit it to bound the response size.
type Boat struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Length float64    `json:"length"`
	Owner  string     `json:"owner"`
	Loads  *[]LoadRef `json:"loads,omitempty"`
	Self   string     `json:"self"`
}

// Load is the JSON representation of a load
type Load struct {
	ID           string   `json:"id"`
	Volume       float64  `json:"volume"`
	Content      string   `json:"content"`
	CreationDate string   `json:"creation_date"`
	Carrier      *Carrier `json:"carrier"`
	Self         string   `json:"self"`
}

// User is the JSON representation of a registered user
type User struct {
	ID   string `json:"id"`
	Self string `json:"self"`
}

// BoatList is one page of boats
type BoatList struct {
	Items []Boat `json:"items"`
	Next  string `json:"next,omitempty"`
}

// LoadList is one page of loads
type LoadList struct {
	Items []Load `json:"items"`
	Next  string `json:"next,omitempty"`
}

func (b *Backend) boatSelf(key string) string {
	return b.publicURL + "/boats/" + key
}

func (b *Backend) loadSelf(key string) string {
	return b.publicURL + "/loads/" + key
}

// newBoat maps a stored boat document to its JSON representation
func (b *Backend) newBoat(doc store.Document, expandLoads bool) (Boat, error) {
	var entity boatEntity
	if err := doc.Decode(&entity); err != nil {
		return Boat{}, err
	}
	boat := Boat{
		ID:     doc.Key,
		Name:   entity.Name,
		Type:   entity.Type,
		Length: entity.Length,
		Owner:  entity.Owner,
		Self:   b.boatSelf(doc.Key),
	}
	if expandLoads {
		loads := make([]LoadRef, 0, len(entity.Loads))
		for _, ref := range entity.Loads {
			loads = append(loads, LoadRef{ID: ref.ID, Self: b.loadSelf(ref.ID)})
		}
		boat.Loads = &loads
	}
	return boat, nil
}

// newLoad maps a stored load document to its JSON representation
func (b *Backend) newLoad(doc store.Document) (Load, error) {
	var entity loadEntity
	if err := doc.Decode(&entity); err != nil {
		return Load{}, err
	}
	load := Load{
		ID:           doc.Key,
		Volume:       entity.Volume,
		Content:      entity.Content,
		CreationDate: entity.CreationDate,
		Carrier:      entity.Carrier,
		Self:         b.loadSelf(doc.Key),
	}
	if entity.Carrier != nil {
		carrier := *entity.Carrier
		carrier.Self = b.boatSelf(carrier.ID)
		load.Carrier = &carrier
	}
	return load, nil
}

// nextURL builds the continuation link for the next page of a listing
func (b *Backend) nextURL(path string, q store.Query, nextCursor string) string {
	values := url.Values{}
	values.Set("limit", strconv.Itoa(q.Limit))
	values.Set("cursor", nextCursor)
	return b.publicURL + path + "?" + values.Encode()
}

// pathKey returns the entity key for a numeric path variable. Anything that
// does not parse as a positive integer cannot address an entity.
func pathKey(r *http.Request, name string) (string, bool) {
	value := mux.Vars(r)[name]
	serial, err := strconv.ParseInt(value, 10, 64)
	if err != nil || serial < 1 {
		return "", false
	}
	return strconv.FormatInt(serial, 10), true
}

func respondJSON(w http.ResponseWriter, status int, value interface{}) {
	payload, _ := json.Marshal(value)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(payload)
}
