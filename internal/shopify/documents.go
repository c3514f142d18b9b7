package shopify

// GraphQL documents sent to the Admin API. Selection sets stay aligned with
// the payload structs in types.go; both change together.

const draftOrderFragment = `fragment DraftOrderFields on DraftOrder {
  id
  name
  status
  invoiceUrl
  currencyCode
  tags
  email
  customer { id email firstName lastName phone }
  shippingAddress { firstName lastName company address1 address2 city provinceCode countryCodeV2 zip phone }
  billingAddress { firstName lastName company address1 address2 city provinceCode countryCodeV2 zip phone }
  subtotalPriceSet { shopMoney { amount currencyCode } }
  totalTaxSet { shopMoney { amount currencyCode } }
  totalShippingPriceSet { shopMoney { amount currencyCode } }
  totalDiscountsSet { shopMoney { amount currencyCode } }
  totalPriceSet { shopMoney { amount currencyCode } }
  lineItems(first: 250) {
    edges {
      cursor
      node {
        id
        title
        quantity
        sku
        variant { id }
        product { id }
        originalUnitPriceSet { shopMoney { amount currencyCode } }
        image { url }
        customAttributes { key value }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
  order { id name statusPageUrl }
  createdAt
  updatedAt
}`

const orderFragment = `fragment OrderFields on Order {
  id
  name
  statusPageUrl
  currencyCode
  tags
  email
  customer { id email firstName lastName phone }
  shippingAddress { firstName lastName company address1 address2 city provinceCode countryCodeV2 zip phone }
  subtotalPriceSet { shopMoney { amount currencyCode } }
  totalTaxSet { shopMoney { amount currencyCode } }
  totalShippingPriceSet { shopMoney { amount currencyCode } }
  totalDiscountsSet { shopMoney { amount currencyCode } }
  totalPriceSet { shopMoney { amount currencyCode } }
  totalOutstandingSet { shopMoney { amount currencyCode } }
  lineItems(first: 250) {
    edges {
      cursor
      node {
        id
        title
        quantity
        fulfillableQuantity
        sku
        variant { id }
        product { id }
        originalUnitPriceSet { shopMoney { amount currencyCode } }
        image { url }
        customAttributes { key value }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
  fulfillments {
    id
    status
    createdAt
    trackingInfo { number url company }
    fulfillmentLineItems(first: 100) {
      edges { node { id quantity lineItem { id } } }
      pageInfo { hasNextPage endCursor }
    }
  }
  refunds {
    id
    note
    createdAt
    totalRefundedSet { shopMoney { amount currencyCode } }
  }
  createdAt
}`

// DraftOrderQuery fetches a single draft order by global id.
const DraftOrderQuery = draftOrderFragment + `
query DraftOrder($id: ID!) {
  draftOrder(id: $id) { ...DraftOrderFields }
}`

// DraftOrdersQuery searches draft orders with Shopify query syntax.
const DraftOrdersQuery = draftOrderFragment + `
query DraftOrders($first: Int!, $after: String, $query: String) {
  draftOrders(first: $first, after: $after, query: $query) {
    edges {
      cursor
      node { ...DraftOrderFields }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// DraftOrderCreateMutation creates a draft order from a DraftOrderInput.
const DraftOrderCreateMutation = draftOrderFragment + `
mutation DraftOrderCreate($input: DraftOrderInput!) {
  draftOrderCreate(input: $input) {
    draftOrder { ...DraftOrderFields }
    userErrors { field message }
  }
}`

// DraftOrderUpdateMutation applies a partial DraftOrderInput to an existing draft.
const DraftOrderUpdateMutation = draftOrderFragment + `
mutation DraftOrderUpdate($id: ID!, $input: DraftOrderInput!) {
  draftOrderUpdate(id: $id, input: $input) {
    draftOrder { ...DraftOrderFields }
    userErrors { field message }
  }
}`

// DraftOrderCompleteMutation converts a draft into a finalized order.
const DraftOrderCompleteMutation = draftOrderFragment + `
mutation DraftOrderComplete($id: ID!) {
  draftOrderComplete(id: $id) {
    draftOrder { ...DraftOrderFields }
    userErrors { field message }
  }
}`

// DraftOrderDeleteMutation removes a draft order permanently.
const DraftOrderDeleteMutation = `
mutation DraftOrderDelete($input: DraftOrderDeleteInput!) {
  draftOrderDelete(input: $input) {
    deletedId
    userErrors { field message }
  }
}`

// OrderQuery fetches a single order by global id.
const OrderQuery = orderFragment + `
query Order($id: ID!) {
  order(id: $id) { ...OrderFields }
}`

// OrdersQuery searches orders with Shopify query syntax, newest first.
const OrdersQuery = orderFragment + `
query Orders($first: Int!, $after: String, $query: String) {
  orders(first: $first, after: $after, query: $query, sortKey: CREATED_AT, reverse: true) {
    edges {
      cursor
      node { ...OrderFields }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// OrdersCountQuery counts orders matching a Shopify query string.
const OrdersCountQuery = `
query OrdersCount($query: String) {
  ordersCount(query: $query) { count }
}`

// ShopQuery is a minimal round trip used to probe Admin API reachability.
const ShopQuery = `
query Shop {
  shop { name myshopifyDomain }
}`
