package ews

import "encoding/xml"

// Request bodies. Field order follows the FindItem schema: ItemShape,
// view, restriction, sort, parent folders.

const calendarViewTmpl = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types"
               xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages">
  <soap:Header>
    <t:RequestServerVersion Version="Exchange2013"/>
  </soap:Header>
  <soap:Body>
    <m:FindItem Traversal="Shallow">
      <m:ItemShape>
        <t:BaseShape>IdOnly</t:BaseShape>
        <t:AdditionalProperties>
          <t:FieldURI FieldURI="item:Subject"/>
          <t:FieldURI FieldURI="calendar:Start"/>
          <t:FieldURI FieldURI="calendar:End"/>
          <t:FieldURI FieldURI="calendar:Location"/>
          <t:FieldURI FieldURI="calendar:Organizer"/>
        </t:AdditionalProperties>
      </m:ItemShape>
      <m:CalendarView MaxEntriesReturned="%d" StartDate="%s" EndDate="%s"/>
      <m:ParentFolderIds>
        <t:DistinguishedFolderId Id="calendar">
          <t:Mailbox><t:EmailAddress>%s</t:EmailAddress></t:Mailbox>
        </t:DistinguishedFolderId>
      </m:ParentFolderIds>
    </m:FindItem>
  </soap:Body>
</soap:Envelope>`

const unreadInboxTmpl = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types"
               xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages">
  <soap:Header>
    <t:RequestServerVersion Version="Exchange2013"/>
  </soap:Header>
  <soap:Body>
    <m:FindItem Traversal="Shallow">
      <m:ItemShape>
        <t:BaseShape>IdOnly</t:BaseShape>
        <t:AdditionalProperties>
          <t:FieldURI FieldURI="item:Subject"/>
          <t:FieldURI FieldURI="message:From"/>
          <t:FieldURI FieldURI="item:DateTimeReceived"/>
          <t:FieldURI FieldURI="item:Preview"/>
        </t:AdditionalProperties>
      </m:ItemShape>
      <m:IndexedPageItemView MaxEntriesReturned="%d" Offset="0" BasePoint="Beginning"/>
      <m:Restriction>
        <t:IsEqualTo>
          <t:FieldURI FieldURI="message:IsRead"/>
          <t:FieldURIOrConstant><t:Constant Value="false"/></t:FieldURIOrConstant>
        </t:IsEqualTo>
      </m:Restriction>
      <m:SortOrder>
        <t:FieldOrder Order="Descending">
          <t:FieldURI FieldURI="item:DateTimeReceived"/>
        </t:FieldOrder>
      </m:SortOrder>
      <m:ParentFolderIds>
        <t:DistinguishedFolderId Id="inbox">
          <t:Mailbox><t:EmailAddress>%s</t:EmailAddress></t:Mailbox>
        </t:DistinguishedFolderId>
      </m:ParentFolderIds>
    </m:FindItem>
  </soap:Body>
</soap:Envelope>`

// Response types. Tags carry local names only so the decoder matches
// elements regardless of namespace prefix.

type envelope struct {
	Body struct {
		Fault            *soapFault `xml:"Fault"`
		FindItemResponse struct {
			ResponseMessages struct {
				Messages []responseMessage `xml:"FindItemResponseMessage"`
			} `xml:"ResponseMessages"`
		} `xml:"FindItemResponse"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type responseMessage struct {
	Class        string `xml:"ResponseClass,attr"`
	ResponseCode string `xml:"ResponseCode"`
	MessageText  string `xml:"MessageText"`
	RootFolder   struct {
		Items foundItems `xml:"Items"`
	} `xml:"RootFolder"`
}

type foundItems struct {
	CalendarItems []calendarItem `xml:"CalendarItem"`
	Messages      []mailMessage  `xml:"Message"`
}

type calendarItem struct {
	ItemID    itemID `xml:"ItemId"`
	Subject   string `xml:"Subject"`
	Start     string `xml:"Start"`
	End       string `xml:"End"`
	Location  string `xml:"Location"`
	Organizer struct {
		Mailbox mailbox `xml:"Mailbox"`
	} `xml:"Organizer"`
}

type mailMessage struct {
	ItemID  itemID `xml:"ItemId"`
	Subject string `xml:"Subject"`
	From    struct {
		Mailbox mailbox `xml:"Mailbox"`
	} `xml:"From"`
	DateTimeReceived string `xml:"DateTimeReceived"`
	Preview          string `xml:"Preview"`
}

type itemID struct {
	ID string `xml:"Id,attr"`
}

type mailbox struct {
	Name         string `xml:"Name"`
	EmailAddress string `xml:"EmailAddress"`
}

// Display prefers the friendly name over the address.
func (m mailbox) Display() string {
	if m.Name != "" {
		return m.Name
	}
	return m.EmailAddress
}

func parseEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
