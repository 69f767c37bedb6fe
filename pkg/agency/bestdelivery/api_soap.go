package bestdelivery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/tournevent/delivery/pkg/agency"
)

// SOAPAPIClient is the production implementation of APIClient.
type SOAPAPIClient struct {
	endpoint  string
	transport *agency.Transport
}

// NewSOAPAPIClient creates a SOAP client posting to baseURL.
func NewSOAPAPIClient(baseURL string, transport *agency.Transport) *SOAPAPIClient {
	return &SOAPAPIClient{
		endpoint:  strings.TrimRight(baseURL, "/") + "/ws/colis.php",
		transport: transport,
	}
}

// CreateParcel registers a parcel.
func (c *SOAPAPIClient) CreateParcel(ctx context.Context, auth Auth, req *ParcelRequest) (*ParcelResponse, error) {
	data := struct {
		Auth   Auth
		Parcel *ParcelRequest
	}{Auth: auth, Parcel: req}

	soapBody, err := buildEnvelope(createParcelTmpl, data)
	if err != nil {
		return nil, agency.NewError(agencyName, agency.KindProtocol, "BUILD_ERROR", "failed to build request").WithCause(err)
	}

	resp, err := c.transport.Do(ctx, c.call("CreateColis", false, soapBody))
	if err != nil {
		return nil, err
	}

	env, err := parseEnvelope(resp)
	if err != nil {
		return nil, err
	}
	if env.Body.CreateColisResponse == nil {
		return nil, agency.ProtocolError(agencyName, "no CreateColisResponse in reply", resp.Body, nil)
	}

	result := env.Body.CreateColisResponse.Result
	if result.HasErrors {
		return nil, &APIError{Code: result.ErrorCode, Description: result.ErrorMessage}
	}
	if result.TrackingCode == "" {
		return nil, agency.ProtocolError(agencyName, "reply has no tracking code", resp.Body, nil)
	}

	return &ParcelResponse{
		TrackingCode: result.TrackingCode,
		Barcode:      result.Barcode,
		LabelURL:     result.LabelURL,
		StatusCode:   result.StatusCode,
	}, nil
}

// TrackParcel returns the current state of a parcel.
func (c *SOAPAPIClient) TrackParcel(ctx context.Context, auth Auth, trackingCode string) (*TrackingResponse, error) {
	data := struct {
		Auth         Auth
		TrackingCode string
	}{Auth: auth, TrackingCode: trackingCode}

	soapBody, err := buildEnvelope(trackParcelTmpl, data)
	if err != nil {
		return nil, agency.NewError(agencyName, agency.KindProtocol, "BUILD_ERROR", "failed to build request").WithCause(err)
	}

	resp, err := c.transport.Do(ctx, c.call("TrackColis", true, soapBody))
	if err != nil {
		return nil, err
	}

	env, err := parseEnvelope(resp)
	if err != nil {
		return nil, err
	}
	if env.Body.TrackColisResponse == nil {
		return nil, agency.ProtocolError(agencyName, "no TrackColisResponse in reply", resp.Body, nil)
	}

	result := env.Body.TrackColisResponse.Result
	if result.HasErrors {
		return nil, &APIError{Code: result.ErrorCode, Description: result.ErrorMessage}
	}
	if result.StatusCode == "" {
		return nil, agency.ProtocolError(agencyName, "reply has no status code", resp.Body, nil)
	}

	return &TrackingResponse{
		TrackingCode: trackingCode,
		StatusCode:   result.StatusCode,
		StatusLabel:  result.StatusLabel,
		UpdatedAt:    result.UpdatedAt,
	}, nil
}

// ============================================================================
// SOAP Request Helpers
// ============================================================================

func (c *SOAPAPIClient) call(action string, idempotent bool, body []byte) agency.Call {
	return agency.Call{
		Operation:  action,
		Idempotent: idempotent,
		Build: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "text/xml; charset=utf-8")
			req.Header.Set("SOAPAction", "urn:bestdelivery#"+action)
			return req, nil
		},
	}
}

const soapEnvelopeTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:bd="urn:bestdelivery">
  <soap:Header>
    <bd:RequestReference>{{.RequestRef}}</bd:RequestReference>
  </soap:Header>
  <soap:Body>
    {{.Body}}
  </soap:Body>
</soap:Envelope>`

const createParcelTmpl = `<bd:CreateColis>
      <bd:login>{{xml .Auth.Login}}</bd:login>
      <bd:pwd>{{xml .Auth.Password}}</bd:pwd>
      <bd:nom>{{xml .Parcel.Name}}</bd:nom>
      <bd:gouvernerat>{{xml .Parcel.Governorate}}</bd:gouvernerat>
      <bd:adresse>{{xml .Parcel.Address}}</bd:adresse>
      <bd:tel>{{xml .Parcel.Phone}}</bd:tel>
      <bd:tel2>{{xml .Parcel.Phone2}}</bd:tel2>
      <bd:designation>{{xml .Parcel.Designation}}</bd:designation>
      <bd:prix>{{.Parcel.Price}}</bd:prix>
      <bd:nb_piece>{{.Parcel.Pieces}}</bd:nb_piece>
      <bd:msg>{{xml .Parcel.Comment}}</bd:msg>
    </bd:CreateColis>`

const trackParcelTmpl = `<bd:TrackColis>
      <bd:login>{{xml .Auth.Login}}</bd:login>
      <bd:pwd>{{xml .Auth.Password}}</bd:pwd>
      <bd:code>{{xml .TrackingCode}}</bd:code>
    </bd:TrackColis>`

var templateFuncs = template.FuncMap{
	"xml": func(s string) (string, error) {
		var buf bytes.Buffer
		if err := xml.EscapeText(&buf, []byte(s)); err != nil {
			return "", err
		}
		return buf.String(), nil
	},
}

var envelopeTmpl = template.Must(template.New("envelope").Parse(soapEnvelopeTemplate))

func buildEnvelope(bodyTmpl string, data any) ([]byte, error) {
	tmpl, err := template.New("body").Funcs(templateFuncs).Parse(bodyTmpl)
	if err != nil {
		return nil, err
	}

	var bodyBuf bytes.Buffer
	if err := tmpl.Execute(&bodyBuf, data); err != nil {
		return nil, err
	}

	envData := struct {
		RequestRef string
		Body       string
	}{
		RequestRef: uuid.New().String(),
		Body:       bodyBuf.String(),
	}

	var envBuf bytes.Buffer
	if err := envelopeTmpl.Execute(&envBuf, envData); err != nil {
		return nil, err
	}
	return envBuf.Bytes(), nil
}

// ============================================================================
// SOAP Response Types
// ============================================================================

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Fault               *soapFault     `xml:"Fault"`
	CreateColisResponse *colisResponse `xml:"CreateColisResponse"`
	TrackColisResponse  *trackResponse `xml:"TrackColisResponse"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type colisResponse struct {
	Result struct {
		HasErrors    bool   `xml:"HasErrors"`
		ErrorCode    string `xml:"ErrorCode"`
		ErrorMessage string `xml:"ErrorMessage"`
		TrackingCode string `xml:"code"`
		Barcode      string `xml:"barcode"`
		LabelURL     string `xml:"lien"`
		StatusCode   string `xml:"etat"`
	} `xml:"CreateColisResult"`
}

type trackResponse struct {
	Result struct {
		HasErrors    bool   `xml:"HasErrors"`
		ErrorCode    string `xml:"ErrorCode"`
		ErrorMessage string `xml:"ErrorMessage"`
		StatusCode   string `xml:"etat"`
		StatusLabel  string `xml:"libelle"`
		UpdatedAt    string `xml:"date_maj"`
	} `xml:"TrackColisResult"`
}

// parseEnvelope decodes a SOAP reply. Faults become *APIError, anything that
// is not a SOAP envelope becomes a protocol error carrying the raw body.
func parseEnvelope(resp *agency.Response) (*soapEnvelope, error) {
	var env soapEnvelope
	if err := xml.Unmarshal(resp.Body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{
				Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
				Description: strings.TrimSpace(string(resp.Body)),
			}
		}
		return nil, agency.ProtocolError(agencyName, "failed to parse response", resp.Body, err)
	}

	if env.Body.Fault != nil {
		return nil, &APIError{
			Code:        faultCode(env.Body.Fault.Code),
			Description: env.Body.Fault.String,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Description: http.StatusText(resp.StatusCode),
		}
	}
	return &env, nil
}

// faultCode strips the namespace prefix from a SOAP fault code ("soap:Client" -> "Client").
func faultCode(code string) string {
	if i := strings.LastIndex(code, ":"); i >= 0 {
		return code[i+1:]
	}
	return code
}

var _ APIClient = (*SOAPAPIClient)(nil)
