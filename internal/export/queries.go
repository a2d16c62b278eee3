package export

// ProductsQuery exports every product with its variants, media images and
// collection memberships as one JSONL file.
const ProductsQuery = `{
  products {
    edges {
      node {
        id
        title
        handle
        description
        descriptionHtml
        vendor
        productType
        tags
        status
        createdAt
        updatedAt
        publishedAt
        onlineStoreUrl
        totalInventory
        seo { title description }
        featuredImage { url altText width height }
        options { id name values }
        variants {
          edges {
            node {
              id
              title
              sku
              price
              compareAtPrice
              availableForSale
              inventoryQuantity
              selectedOptions { name value }
            }
          }
        }
        media {
          edges {
            node {
              ... on MediaImage {
                id
                alt
                image { url width height }
              }
            }
          }
        }
        collections {
          edges {
            node {
              id
              handle
              title
            }
          }
        }
      }
    }
  }
}`

const bulkRunMutation = `mutation bulkOperationRunQuery($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation { id status }
    userErrors { field message code }
  }
}`

const currentBulkOperationQuery = `{
  currentBulkOperation {
    id
    status
    errorCode
    objectCount
    url
  }
}`

const pollQuery = `query bulkOperation($id: ID!) {
  node(id: $id) {
    ... on BulkOperation {
      id
      status
      errorCode
      objectCount
      url
    }
  }
}`

const latestProductQuery = `{
  products(first: 1, sortKey: UPDATED_AT, reverse: true) {
    edges { node { id updatedAt } }
  }
}`
