package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/openimpact/dtrack/lib/msg"
	"github.com/openimpact/dtrack/lib/page"
	"github.com/openimpact/dtrack/lib/registry"
	"github.com/openimpact/dtrack/lib/search"
	"github.com/openimpact/dtrack/lib/store"
	"github.com/openimpact/dtrack/lib/util"
)

// Errors returned to client requests.
var (
	ErrBadMethod  = errors.New("bad method in request")
	ErrBadRequest = errors.New("bad request")
	ErrMissingNet = errors.New("undefined blockchain - missing query: ?net=<blockchain>")
	ErrNoAddr     = errors.New("undefined address - missing in uri")
	ErrNoNet      = errors.New("network not available")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// reply writes the Response envelope with the outcome of the request and logs it.
func (t *Tracker) reply(rw http.ResponseWriter, r *http.Request, payload interface{}, err error) {
	var res Response

	if err != nil {
		res.Error = fmt.Sprintf("%s", err)
		rw.WriteHeader(status(err))
	} else {
		rw.WriteHeader(http.StatusOK)

		if payload != nil {
			tmp, _ := json.Marshal(payload)
			res.Body = string(tmp)
		}
	}

	t.log.Info().Str("from", r.RemoteAddr).Str("uri", r.RequestURI).Err(err).Msg("httpreq")
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(&res)
}

// status maps the error taxonomy to http status codes.
func status(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, registry.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, registry.ErrRemoteRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrRemoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrNoNet):
		return http.StatusNotFound
	}

	return http.StatusBadRequest
}

// homeHandler just replies a welcome message to the client.
func (t *Tracker) homeHandler(rw http.ResponseWriter, r *http.Request) {
	t.reply(rw, r, "Hello, this is your donation tracker!", nil)
}

// networksHandler replies the networks available to the tracker.
func (t *Tracker) networksHandler(rw http.ResponseWriter, r *http.Request) {
	pl := make([]string, 0, len(t.bc))
	for net := range t.bc {
		pl = append(pl, net)
	}

	t.reply(rw, r, pl, nil)
}

// sessionHandler replies the current wallet session. A zero session means disconnected.
func (t *Tracker) sessionHandler(rw http.ResponseWriter, r *http.Request) {
	t.reply(rw, r, t.conn.Session(), nil)
}

// connectHandler establishes a wallet session and replies it.
func (t *Tracker) connectHandler(rw http.ResponseWriter, r *http.Request) {
	sess, err := t.conn.Connect(r.Context())
	t.reply(rw, r, sess, err)
}

// disconnectHandler clears the wallet session. Disconnecting twice is fine.
func (t *Tracker) disconnectHandler(rw http.ResponseWriter, r *http.Request) {
	t.conn.Disconnect()
	t.reply(rw, r, "disconnected", nil)
}

// addrBalance struct used to get balances of addresses from the networks.
type addrBalance struct {
	Net string `json:"net"`
	Bal string `json:"bal"` // display units
	Wei string `json:"wei"` // smallest units
}

// addrBalHandler replies the balance of the address requested for all the networks specified in the query.
func (t *Tracker) addrBalHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		bals []addrBalance
	)

	defer func() { t.reply(rw, r, bals, err) }()

	if err = r.ParseForm(); err != nil {
		return
	}

	v := mux.Vars(r)

	address, ok := v["address"]
	if !ok {
		err = ErrNoAddr

		return
	}

	nets := r.Form["net"]

	for name, client := range t.bc {
		if len(nets) > 0 && !util.In(nets, name) {
			continue
		}

		wei, errBal := client.Balance(r.Context(), address)
		if errBal != nil {
			err = errBal

			return
		}

		bals = append(bals, addrBalance{Net: name, Bal: registry.FromWei(wei), Wei: wei.String()})
	}
}

// pageInfo carries the pagination metadata of a list response.
type pageInfo struct {
	Page       int  `json:"page"`
	Size       int  `json:"size"`
	TotalItems int  `json:"totalItems"`
	TotalPages int  `json:"totalPages"`
	StartIndex int  `json:"startIndex"`
	EndIndex   int  `json:"endIndex"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

func pageOf[T any](p *page.Paginator[T]) pageInfo {
	return pageInfo{
		Page:       p.Page(),
		Size:       p.Size(),
		TotalItems: p.TotalItems(),
		TotalPages: p.TotalPages(),
		StartIndex: p.StartIndex(),
		EndIndex:   p.EndIndex(),
		HasNext:    p.HasNext(),
		HasPrev:    p.HasPrev(),
	}
}

// listQuery is the parsed filter, sort and pagination state of a list request.
type listQuery struct {
	filters search.Filters
	sort    search.Sort
	page    int
	size    int
}

// parseListQuery decodes the shared list query parameters: q, approved, ngo, min, max, from, to, sort, dir, page
// and size. Amount bounds arrive in display units; time bounds in RFC 3339.
func parseListQuery(r *http.Request) (listQuery, error) {
	lq := listQuery{sort: search.DefaultSort(), page: 1, size: page.DefaultSizes[1]}

	if err := r.ParseForm(); err != nil {
		return lq, err
	}

	form := r.Form
	lq.filters.Query = form.Get("q")
	lq.filters.NGOWallet = form.Get("ngo")

	if s := form.Get("approved"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return lq, fmt.Errorf("%w: approved=%s", ErrBadRequest, s)
		}

		lq.filters.Approved = &b
	}

	if s := form.Get("min"); s != "" {
		wei, err := registry.ToWei(s)
		if err != nil {
			return lq, err
		}

		lq.filters.MinAmount = wei
	}

	if s := form.Get("max"); s != "" {
		wei, err := registry.ToWei(s)
		if err != nil {
			return lq, err
		}

		lq.filters.MaxAmount = wei
	}

	if s := form.Get("from"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return lq, fmt.Errorf("%w: from=%s", ErrBadRequest, s)
		}

		lq.filters.From = &ts
	}

	if s := form.Get("to"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return lq, fmt.Errorf("%w: to=%s", ErrBadRequest, s)
		}

		lq.filters.To = &ts
	}

	if s := form.Get("sort"); s != "" {
		switch search.Field(s) {
		case search.ByName, search.ByAmount, search.ByTimestamp, search.ByTotalReceived:
			lq.sort.Field = search.Field(s)
		default:
			return lq, fmt.Errorf("%w: sort=%s", ErrBadRequest, s)
		}
	}

	switch strings.ToLower(form.Get("dir")) {
	case "", "desc":
		lq.sort.Dir = search.Desc
	case "asc":
		lq.sort.Dir = search.Asc
	default:
		return lq, fmt.Errorf("%w: dir=%s", ErrBadRequest, form.Get("dir"))
	}

	if s := form.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return lq, fmt.Errorf("%w: page=%s", ErrBadRequest, s)
		}

		lq.page = n
	}

	if s := form.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return lq, fmt.Errorf("%w: size=%s", ErrBadRequest, s)
		}

		lq.size = n
	}

	return lq, nil
}

// ngoList is the payload of an organization list response.
type ngoList struct {
	Items   []registry.NGO `json:"items"`
	Skipped []string       `json:"skipped,omitempty"`
	pageInfo
}

// listNGOsHandler replies the registered organizations after applying the query's filters, sort and pagination.
// Organizations whose record could not be read are reported in the skipped list.
func (t *Tracker) listNGOsHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		pl  ngoList
	)

	defer func() { t.reply(rw, r, pl, err) }()

	lq, err := parseListQuery(r)
	if err != nil {
		return
	}

	ngos, skipped, err := t.reg.ListNGOs(r.Context(), t.conn.Session())
	if err != nil {
		return
	}

	engine := search.New[registry.NGO]()
	if lq.sort.Field == search.ByTimestamp {
		// organizations have no timestamp, order by name instead
		lq.sort.Field = search.ByName
		if lq.sort.Dir == search.Desc {
			lq.sort.Dir = search.Asc
		}
	}

	found := engine.Apply(ngos, lq.filters, lq.sort)

	p := page.New(found, lq.size)
	p.GoToPage(lq.page)

	pl = ngoList{Items: p.Items(), Skipped: skipped, pageInfo: pageOf(p)}
}

// donationList is the payload of a donation list response.
type donationList struct {
	Items   []registry.Donation `json:"items"`
	Skipped []uint64            `json:"skipped,omitempty"`
	pageInfo
}

// listDonationsHandler replies all donations after applying the query's filters, sort and pagination. Donations
// whose record could not be read are reported in the skipped list.
func (t *Tracker) listDonationsHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		pl  donationList
	)

	defer func() { t.reply(rw, r, pl, err) }()

	lq, err := parseListQuery(r)
	if err != nil {
		return
	}

	ds, skipped, err := t.reg.ListDonations(r.Context(), t.conn.Session())
	if err != nil {
		return
	}

	pl = donationPage(ds, skipped, lq)
}

// orgDonationsHandler replies the donations made to the organization in the uri.
func (t *Tracker) orgDonationsHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		pl  donationList
	)

	defer func() { t.reply(rw, r, pl, err) }()

	wallet, ok := mux.Vars(r)["wallet"]
	if !ok {
		err = ErrNoAddr

		return
	}

	lq, err := parseListQuery(r)
	if err != nil {
		return
	}

	ds, skipped, err := t.reg.DonationsByNGO(r.Context(), t.conn.Session(), wallet)
	if err != nil {
		return
	}

	pl = donationPage(ds, skipped, lq)
}

func donationPage(ds []registry.Donation, skipped []uint64, lq listQuery) donationList {
	found := search.New[registry.Donation]().Apply(ds, lq.filters, lq.sort)

	p := page.New(found, lq.size)
	p.GoToPage(lq.page)

	return donationList{Items: p.Items(), Skipped: skipped, pageInfo: pageOf(p)}
}

// withdrawalsHandler replies the pending withdrawal amount per approved organization wallet.
func (t *Tracker) withdrawalsHandler(rw http.ResponseWriter, r *http.Request) {
	pending, err := t.reg.PendingWithdrawals(r.Context(), t.conn.Session())
	t.reply(rw, r, pending, err)
}

// registerNGOReq is the body of an organization registration request.
type registerNGOReq struct {
	Name        string `json:"name"`
	MetadataCID string `json:"metadataCID"`
	Description string `json:"description"`
	Website     string `json:"website"`
	Contact     string `json:"contact"`
}

// registerNGOHandler submits an organization registration for the session account.
func (t *Tracker) registerNGOHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		req registerNGOReq
	)

	defer func() { t.reply(rw, r, "registered", err) }()

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	if req.Name == "" {
		err = fmt.Errorf("%w: missing name", ErrBadRequest)

		return
	}

	err = t.reg.RegisterNGO(r.Context(), t.conn.Session(), req.Name, req.MetadataCID, req.Description, req.Website, req.Contact)
}

// approveNGOHandler sets the approval flag of the organization in the uri. The ledger rejects callers other than
// the administrator.
func (t *Tracker) approveNGOHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		req struct {
			Approved bool `json:"approved"`
		}
	)

	defer func() { t.reply(rw, r, "approval updated", err) }()

	wallet, ok := mux.Vars(r)["wallet"]
	if !ok {
		err = ErrNoAddr

		return
	}

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	err = t.reg.ApproveNGO(r.Context(), t.conn.Session(), wallet, req.Approved)
}

// donateReq is the body of a donation request. Amount is in display units, for example "0.25".
type donateReq struct {
	Wallet  string `json:"wallet"`
	Amount  string `json:"amount"`
	Message string `json:"message"`
}

// donateHandler submits a donation to the organization wallet in the body. The recipient is not validated
// locally; an unknown recipient is the ledger's call to reject.
func (t *Tracker) donateHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		req donateReq
	)

	defer func() { t.reply(rw, r, "donation confirmed", err) }()

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	if req.Wallet == "" {
		err = ErrNoAddr

		return
	}

	err = t.reg.Donate(r.Context(), t.conn.Session(), req.Wallet, req.Amount, req.Message)
}

// addProofHandler attaches a proof reference to the donation in the uri.
func (t *Tracker) addProofHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		req struct {
			CID string `json:"cid"`
		}
	)

	defer func() { t.reply(rw, r, "proof attached", err) }()

	id, errConv := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if errConv != nil {
		err = fmt.Errorf("%w: bad donation id", ErrBadRequest)

		return
	}

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	if req.CID == "" {
		err = fmt.Errorf("%w: missing cid", ErrBadRequest)

		return
	}

	err = t.reg.AddProof(r.Context(), t.conn.Session(), id, req.CID)
}

// withdrawHandler withdraws the amount in the body from the session organization's pending balance.
func (t *Tracker) withdrawHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		req struct {
			Amount string `json:"amount"`
		}
	)

	defer func() { t.reply(rw, r, "withdrawal confirmed", err) }()

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	err = t.reg.Withdraw(r.Context(), t.conn.Session(), req.Amount)
}

// transferOwnershipHandler hands the registry contract to a new administrator.
func (t *Tracker) transferOwnershipHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		req struct {
			NewOwner string `json:"newOwner"`
		}
	)

	defer func() { t.reply(rw, r, "ownership transferred", err) }()

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	if req.NewOwner == "" {
		err = ErrNoAddr

		return
	}

	err = t.reg.TransferOwnership(r.Context(), t.conn.Session(), req.NewOwner)
}

// watchHandler sends a watch request message to the broker to start or stop watching an organization wallet. A
// request accepted status will be replied or an error otherwise.
func (t *Tracker) watchHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		res Response
	)

	defer func() {
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
			rw.WriteHeader(status(err))
		} else {
			res.Body = "accepted"
			rw.WriteHeader(http.StatusAccepted)
		}

		t.log.Info().Str("from", r.RemoteAddr).Str("uri", r.RequestURI).Err(err).Msg("httpreq")
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	wallet, ok := mux.Vars(r)["wallet"]
	if !ok {
		err = ErrNoAddr

		return
	}

	wallet = util.LowerAddr(wallet) // keep everything in lowercase to avoid issues

	if err = r.ParseForm(); err != nil {
		return
	}

	net, okN := r.Form["net"]
	if !okN || len(net) != 1 { // we only allow 1 net per request
		err = ErrMissingNet

		return
	}

	wr := msg.WatchReq{Net: net[0], Wallet: wallet, Label: r.Form.Get("label")}

	switch r.Method {
	case "POST":
		wr.Act = msg.LISTEN
	case "DELETE":
		wr.Act = msg.UNLISTEN
	default:
		err = ErrBadMethod
	}
	// send message to broker
	if err == nil {
		err = t.mb.SendWatchReq(net[0], wr)
	}
}

// getWatchesHandler replies the client with the organizations being watched for the specified network. If no
// network is queried, watches from all the networks are returned.
func (t *Tracker) getWatchesHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err     error
		watches []store.WatchedOrgs
	)

	defer func() { t.reply(rw, r, watches, err) }()

	if err = r.ParseForm(); err != nil {
		return
	}

	net, ok := r.Form["net"]
	if ok && len(net) != 1 { // we only allow 1 net per request
		err = ErrNoNet

		return
	}
	// get watches from DB
	watches, err = t.db.GetWatches(net)
}
