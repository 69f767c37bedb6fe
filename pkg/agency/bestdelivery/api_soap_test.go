package bestdelivery_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/delivery/pkg/agency"
	"github.com/tournevent/delivery/pkg/agency/bestdelivery"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const createOK = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <CreateColisResponse xmlns="urn:bestdelivery">
      <CreateColisResult>
        <HasErrors>false</HasErrors>
        <code>BD0000012345</code>
        <barcode>3700000012345</barcode>
        <lien>https://www.bestdelivery.com.tn/etiquette.php?code=BD0000012345</lien>
        <etat>0</etat>
      </CreateColisResult>
    </CreateColisResponse>
  </soap:Body>
</soap:Envelope>`

const trackOK = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <TrackColisResponse xmlns="urn:bestdelivery">
      <TrackColisResult>
        <HasErrors>false</HasErrors>
        <etat>4</etat>
        <libelle>En cours de livraison</libelle>
        <date_maj>2024-03-10 09:15:00</date_maj>
      </TrackColisResult>
    </TrackColisResponse>
  </soap:Body>
</soap:Envelope>`

const trackNotFound = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <TrackColisResponse xmlns="urn:bestdelivery">
      <TrackColisResult>
        <HasErrors>true</HasErrors>
        <ErrorCode>TRACKING_NOT_FOUND</ErrorCode>
        <ErrorMessage>Colis introuvable</ErrorMessage>
      </TrackColisResult>
    </TrackColisResponse>
  </soap:Body>
</soap:Envelope>`

const soapFault = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Client</faultcode>
      <faultstring>Authentification refusée</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

type soapServer struct {
	*httptest.Server
	hits     atomic.Int32
	lastBody atomic.Value
}

func newSOAPServer(t *testing.T, status int, reply string) *soapServer {
	t.Helper()
	s := &soapServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		s.lastBody.Store(string(body))
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(s.Close)
	return s
}

func newSOAPClient(url string, transport agency.TransportConfig) *bestdelivery.Client {
	logger := otelzap.New(zap.NewNop())
	api := bestdelivery.NewSOAPAPIClient(url, agency.NewTransport("bestdelivery", transport, logger))
	return bestdelivery.NewWithAPIClient(bestdelivery.Config{BaseURL: url}, api, logger, nil)
}

func TestSOAP_CreateOrder(t *testing.T) {
	srv := newSOAPServer(t, http.StatusOK, createOK)
	client := newSOAPClient(srv.URL, agency.TransportConfig{})

	order := testOrder()
	order.Note = "Fragile <verre> & cadeau"
	resp, err := client.CreateOrder(context.Background(), order, testCreds)

	require.NoError(t, err)
	assert.Equal(t, "BD0000012345", resp.TrackingNumber)
	assert.Equal(t, "3700000012345", resp.Barcode)
	assert.Contains(t, resp.PrintURL, "BD0000012345")
	assert.Equal(t, agency.StatusUploaded, resp.Status)

	sent := srv.lastBody.Load().(string)
	assert.Contains(t, sent, "<bd:login>boutique</bd:login>")
	assert.Contains(t, sent, "<bd:gouvernerat>Sfax</bd:gouvernerat>")
	assert.Contains(t, sent, "<bd:prix>45.000</bd:prix>")
	assert.Contains(t, sent, "Fragile &lt;verre&gt; &amp; cadeau")
}

func TestSOAP_TrackOrder(t *testing.T) {
	srv := newSOAPServer(t, http.StatusOK, trackOK)
	client := newSOAPClient(srv.URL, agency.TransportConfig{})

	resp, err := client.TrackOrder(context.Background(), "BD0000012345", testCreds)

	require.NoError(t, err)
	assert.Equal(t, agency.StatusInTransit, resp.Status)
	assert.Equal(t, "4", resp.RawStatus)
	assert.Equal(t, "En cours de livraison", resp.Message)
	assert.Contains(t, srv.lastBody.Load().(string), "<bd:code>BD0000012345</bd:code>")
}

func TestSOAP_BusinessError(t *testing.T) {
	srv := newSOAPServer(t, http.StatusOK, trackNotFound)
	client := newSOAPClient(srv.URL, agency.TransportConfig{})

	_, err := client.TrackOrder(context.Background(), "BD1", testCreds)

	var agencyErr *agency.Error
	require.True(t, errors.As(err, &agencyErr))
	assert.Equal(t, agency.KindBusiness, agencyErr.Kind)
	assert.Equal(t, "TRACKING_NOT_FOUND", agencyErr.Code)
	assert.Equal(t, "Colis introuvable", agencyErr.Message)
}

func TestSOAP_Fault(t *testing.T) {
	srv := newSOAPServer(t, http.StatusInternalServerError, soapFault)
	client := newSOAPClient(srv.URL, agency.TransportConfig{})

	_, err := client.CreateOrder(context.Background(), testOrder(), testCreds)

	var agencyErr *agency.Error
	require.True(t, errors.As(err, &agencyErr))
	assert.Equal(t, agency.KindBusiness, agencyErr.Kind)
	assert.Equal(t, "Client", agencyErr.Code)
	assert.Equal(t, "Authentification refusée", agencyErr.Message)
}

func TestSOAP_UnparseableReply(t *testing.T) {
	srv := newSOAPServer(t, http.StatusOK, "<html><body>Maintenance</body>")
	client := newSOAPClient(srv.URL, agency.TransportConfig{})

	_, err := client.TrackOrder(context.Background(), "BD1", testCreds)

	var agencyErr *agency.Error
	require.True(t, errors.As(err, &agencyErr))
	assert.Equal(t, agency.KindProtocol, agencyErr.Kind)
	assert.Contains(t, agencyErr.RawBody, "Maintenance")
}

func TestSOAP_EnvelopeWithoutResult(t *testing.T) {
	srv := newSOAPServer(t, http.StatusOK, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body/></soap:Envelope>`)
	client := newSOAPClient(srv.URL, agency.TransportConfig{})

	_, err := client.CreateOrder(context.Background(), testOrder(), testCreds)

	assert.True(t, errors.Is(err, agency.ErrProtocol))
}

func TestSOAP_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	client := newSOAPClient(srv.URL, agency.TransportConfig{Timeout: 50 * time.Millisecond})

	_, err := client.TrackOrder(context.Background(), "BD1", testCreds)

	assert.True(t, errors.Is(err, agency.ErrTimeout), "got %v", err)
}

func TestSOAP_RegionValidationMakesNoNetworkCall(t *testing.T) {
	srv := newSOAPServer(t, http.StatusOK, createOK)
	logger := otelzap.New(zap.NewNop())
	api := bestdelivery.NewSOAPAPIClient(srv.URL, agency.NewTransport("bestdelivery", agency.TransportConfig{}, logger))
	client := bestdelivery.NewWithAPIClient(bestdelivery.Config{Regions: []string{"Tunis"}}, api, logger, nil)

	_, err := client.CreateOrder(context.Background(), testOrder(), testCreds)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Sfax")
	assert.Contains(t, err.Error(), "bestdelivery")
	assert.Zero(t, srv.hits.Load())

	blank := testOrder()
	blank.City = "   "
	_, err = client.CreateOrder(context.Background(), blank, testCreds)

	require.Error(t, err)
	assert.True(t, errors.Is(err, agency.ErrValidation))
	assert.Zero(t, srv.hits.Load())
}

func TestSOAP_TestConnection(t *testing.T) {
	srv := newSOAPServer(t, http.StatusOK, trackNotFound)
	client := newSOAPClient(srv.URL, agency.TransportConfig{})

	assert.NoError(t, client.TestConnection(context.Background(), testCreds))
	assert.Equal(t, int32(1), srv.hits.Load())
}
